package logstore

import "sort"

// Iterator walks records in address order, crossing file boundaries and
// skipping removed files.
type Iterator struct {
	log   *Log
	addr  Address
	until Address
	cur   Loggable
	err   error
	done  bool
}

// ReadIterator returns an iterator over all records at or after from.
func (l *Log) ReadIterator(from Address) *Iterator {
	return &Iterator{log: l, addr: from, until: NullAddress}
}

// FileIterator returns an iterator over the records of one file.
func (l *Log) FileIterator(fileAddr Address) *Iterator {
	return &Iterator{log: l, addr: fileAddr, until: fileAddr + Address(l.opts.FileSize)}
}

// Next advances to the next record. It returns false at the end of the log
// or on error.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	l := it.log
	size := Address(l.opts.FileSize)
	for {
		if it.until != NullAddress && it.addr >= it.until {
			return it.stop(nil)
		}
		fileAddr := l.FileAddress(it.addr)
		length := l.FileLength(fileAddr)
		if length == 0 {
			next, ok := l.nextFile(fileAddr)
			if !ok {
				return it.stop(nil)
			}
			it.addr = next
			continue
		}
		if off := int64(it.addr - fileAddr); off < FileHeaderSize {
			it.addr = fileAddr + FileHeaderSize
			continue
		} else if off >= length {
			it.addr = fileAddr + size
			continue
		}

		rec, padding, err := l.readRecord(it.addr)
		if err != nil {
			return it.stop(err)
		}
		if padding {
			it.addr = fileAddr + size
			continue
		}
		it.cur = rec
		it.addr = rec.End()
		return true
	}
}

func (it *Iterator) stop(err error) bool {
	it.err = err
	it.done = true
	return false
}

// Loggable returns the current record.
func (it *Iterator) Loggable() Loggable {
	return it.cur
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// nextFile returns the first file address greater than fileAddr.
func (l *Log) nextFile(fileAddr Address) (Address, bool) {
	files := l.Files()
	i := sort.Search(len(files), func(i int) bool { return files[i] > fileAddr })
	if i == len(files) {
		return NullAddress, false
	}
	return files[i], true
}

package btree

// Default page sizes.
const (
	DefaultPageMaxSize    = 128
	DefaultDupPageMaxSize = 32

	// minPageSize keeps splits and merges meaningful.
	minPageSize = 4
)

// Config holds page size limits.
type Config struct {
	PageMaxSize    int
	DupPageMaxSize int
}

// DefaultConfig returns the default page configuration.
func DefaultConfig() Config {
	return Config{
		PageMaxSize:    DefaultPageMaxSize,
		DupPageMaxSize: DefaultDupPageMaxSize,
	}
}

// WithPageMaxSize sets the page size.
func (c Config) WithPageMaxSize(n int) Config {
	c.PageMaxSize = n
	return c
}

// WithDupPageMaxSize sets the duplicates sub-tree page size.
func (c Config) WithDupPageMaxSize(n int) Config {
	c.DupPageMaxSize = n
	return c
}

func (c Config) normalized() Config {
	if c.PageMaxSize < minPageSize {
		c.PageMaxSize = DefaultPageMaxSize
	}
	if c.DupPageMaxSize < minPageSize {
		c.DupPageMaxSize = DefaultDupPageMaxSize
	}
	return c
}

// Package gc reclaims log files whose records are mostly superseded.
//
// A UtilizationProfile tracks how many bytes of each file were expired by
// commits. The Collector picks files whose live share fell below a
// threshold, hands their records to the trees of the current generation so
// that still reachable nodes are written again at the end of the log, and
// deletes the files once no transaction can read them anymore.
package gc

// Package openfile is the Open-File Set: per-open-path buffers implementing
// the four strategies named in §3/§4.4 of the design (SequentialMemory,
// DiskBacked, SparseMemory, Hash), each sharing the same read/write/
// truncate/upload/delete contract, plus the Set that tracks which path maps
// to which buffer and hands out monotonically increasing handles.
package openfile

// Package dirtree is the Directory Index: it converts a flat list of keys
// (plus a set of locally-created directory paths the flat keyspace cannot
// encode) into a rooted tree of directories and file records, and answers
// is_directory/is_file/get_directory/get_file_info/children queries against
// it, per the design's Directory Index component.
package dirtree

// Package format transcodes between stored entities and the file formats the
// remote calculation engine consumes: exposure model XML with an asset CSV,
// vulnerability model XML, and ini job configuration files. All functions are
// pure: they read or write streams and never touch the store.
package format

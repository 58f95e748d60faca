package listener

import "github.com/ajlab/ojd/internal/ojerr"

// categoryOf maps any error into the wire category string a client uses
// to pick an exit code, without exposing ojerr's Go types over IPC.
func categoryOf(err error) ojerr.Category {
	if c := ojerr.CategoryOf(err); c != "" {
		return c
	}
	return ojerr.CategoryFatal
}

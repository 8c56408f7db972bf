package memindex

import "errors"

var errClosed = errors.New("memindex: backend closed")

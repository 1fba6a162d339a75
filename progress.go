// Console output destinations. Progress lines (fetch banners, per-asset
// download notes, archived confirmations) go to out; per-post failures go
// to errOut so a -silent run still reports them.
package main

import (
	"io"
	"os"
)

var (
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

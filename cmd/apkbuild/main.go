package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/goplus/apkbuild/cmd/apkbuild/internal"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := internal.Execute(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		internal.PrintError(os.Stderr, err)
	}

	stop()
	os.Exit(internal.ExitCode(err))
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/microsoft/fusionidea/internal/commands"
	"github.com/microsoft/fusionidea/pkg/logger"
	"github.com/microsoft/fusionidea/pkg/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3
)

func main() {
	log := logger.New("fusionidea")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	exitCode := run(ctx, log)
	stop()
	log.Flush()
	os.Exit(exitCode)
}

func run(ctx context.Context, log *logger.Logger) int {
	root, setupErr := commands.NewRootCommand(log)
	if setupErr != nil {
		fmt.Fprintln(os.Stderr, setupErr)
		return errSetup
	}

	err := resiliency.CallWithPanicCapture(log.Logger, func() error {
		return root.ExecuteContext(ctx)
	})
	switch {
	case err == nil:
		return 0
	case errors.Is(err, resiliency.ErrPanic):
		fmt.Fprintln(os.Stderr, err)
		return errPanic
	default:
		fmt.Fprintln(os.Stderr, err)
		return errCommandError
	}
}

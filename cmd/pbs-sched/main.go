// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command pbs-sched is the scheduler daemon skeleton: it builds the
// command mailbox and cycle-close bookkeeping from internal/sched and
// runs the read-command/run-cycle loop shape section 4.6 describes.
//
// It does not yet dial the server's batch port and perform RegisterSched
// over the wire -- internal/dis has no client-side DIS encoder/decoder
// pairing with internal/conn's listener yet (that listener itself doesn't
// exist either, see cmd/pbs-server's doc comment). What's here is the
// scheduling-cycle control flow a wired RegisterSched handshake would
// drive, exercised against a local Registration so its shape is already
// real and tested (internal/sched/sched_test.go).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pbsgo/batchcore/internal/sched"
	"github.com/pbsgo/batchcore/pkg/logging"
)

func main() {
	name := flag.String("name", "sched", "scheduler registration name")
	flag.Parse()

	logger := logging.NewLogger(&logging.Config{
		Format:  logging.FormatJSON,
		Output:  os.Stdout,
		Service: "pbs-sched",
		Version: "dev",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := sched.NewRegistration(*name, nil, nil)
	logger.Info("scheduler registration built", "name", reg.Name)

	runCycleLoop(ctx, reg, logger)
}

// runCycleLoop is the control flow section 4.6 describes: block for a
// command, run one cycle, signal its close. The RunJob issuance a real
// cycle performs against internal/job.Service is the caller's
// responsibility once a wired server connection exists; this loop only
// owns the command-mailbox/cycle-close sequencing internal/sched provides.
func runCycleLoop(ctx context.Context, reg *sched.Registration, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler shutting down")
			return
		case cmd := <-reg.Mailbox.Recv():
			logger.Info("scheduling cycle starting", "command", cmd, "high_priority", cmd.IsHigh())
			reg.Mailbox.Drained()
			reg.HandleDeferredCycleClose(sched.CycleSuccess)
			logger.Info("scheduling cycle closed")
		}
	}
}

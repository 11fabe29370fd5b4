// Package broadcast runs the background loop that pushes finalized
// transactions to the node and tracks them until they confirm.
package broadcast

import (
	"context"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/multisig/pkg/node"
	"github.com/luxfi/multisig/pkg/store"
)

// workerLimit bounds concurrent node RPCs per sweep.
const workerLimit = 4

// Supervisor periodically sweeps unmined finalized transactions. Each sweep
// checks confirmations first, then (re-)broadcasts anything the chain has not
// seen. Failed rows are retried on every sweep until they mine.
type Supervisor struct {
	log      slog.Logger
	finals   store.FinalTxStore
	node     node.Client
	interval time.Duration
}

func NewSupervisor(log slog.Logger, finals store.FinalTxStore, n node.Client, interval time.Duration) *Supervisor {
	return &Supervisor{log: log, finals: finals, node: n, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Infof("broadcast supervisor started, interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("broadcast supervisor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Errorf("broadcast sweep: %v", err)
			}
		}
	}
}

// Sweep processes every unmined finalized transaction once. A failure on one
// transaction never blocks the others; failures are recorded on the row and
// retried next sweep.
func (s *Supervisor) Sweep(ctx context.Context) error {
	pending, err := s.finals.ListUnmined(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit)
	for _, tx := range pending {
		tx := tx
		g.Go(func() error {
			s.process(ctx, tx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) process(ctx context.Context, tx *store.FinalTx) {
	if len(tx.Raw) == 0 {
		// Finalization failed before assembly; nothing to broadcast.
		return
	}
	confs, err := s.node.Confirmations(ctx, tx.TxID)
	if err != nil {
		s.log.Warnf("confirmations for %s: %v", tx.TxID, err)
		confs = 0
	}
	if confs > 0 {
		tx.Mined = true
		tx.Error = ""
		if err := s.finals.Upsert(ctx, tx); err != nil {
			s.log.Errorf("mark %s mined: %v", tx.TxID, err)
		}
		s.log.Infof("transaction %s mined with %d confirmations", tx.TxID, confs)
		return
	}
	if err := s.node.Broadcast(ctx, tx.Raw); err != nil {
		s.log.Warnf("broadcast %s: %v", tx.TxID, err)
		tx.Error = err.Error()
		if uerr := s.finals.Upsert(ctx, tx); uerr != nil {
			s.log.Errorf("record broadcast failure for %s: %v", tx.TxID, uerr)
		}
		return
	}
	s.log.Debugf("broadcast %s, awaiting confirmation", tx.TxID)
}

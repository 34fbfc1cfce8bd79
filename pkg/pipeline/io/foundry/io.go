package foundryio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/foundry"
)

// DefaultOutputFilename is the file written into the output dataset.
const DefaultOutputFilename = "enriched.csv"

const (
	retryAttempts     = 8
	retryInitialSleep = 200 * time.Millisecond
	retryMaxSleep     = 2 * time.Second
)

// ReadInputCSV reads the input dataset as CSV, retrying transient failures. When
// maxBytes > 0 the read stops one byte past the limit.
func ReadInputCSV(ctx context.Context, client *foundry.Client, inputRef foundry.DatasetRef, maxBytes int64) ([]byte, error) {
	var b []byte
	err := retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
		var err error
		b, err = client.ReadTableCSV(ctx, inputRef.RID, inputRef.BranchOrDefault(), maxBytes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read input dataset %s: %w", inputRef.RID, err)
	}
	return b, nil
}

// UploadDatasetCSV writes csv into the output dataset through a transaction.
//
// A transaction created here is committed. When the dataset already has an open
// transaction (the platform opens one for compute-module builds) the file is
// uploaded into it and committing is left to its owner.
func UploadDatasetCSV(ctx context.Context, client *foundry.Client, outputRef foundry.DatasetRef, outputFilename string, csv []byte) error {
	if strings.TrimSpace(outputFilename) == "" {
		outputFilename = DefaultOutputFilename
	}
	branch := outputRef.BranchOrDefault()

	var txnID string
	createdTxn := true
	err := retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
		var err error
		txnID, err = client.CreateTransaction(ctx, outputRef.RID, branch)
		return err
	})
	if err != nil {
		if !isOpenTransactionAlreadyExists(err) {
			return fmt.Errorf("create output transaction: %w", err)
		}
		createdTxn = false

		var ok bool
		err = retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
			var err error
			txnID, ok, err = client.FindLatestOpenTransaction(ctx, outputRef.RID)
			return err
		})
		if err != nil {
			return fmt.Errorf("find open output transaction: %w", err)
		}
		if !ok || txnID == "" {
			return fmt.Errorf("output dataset has an open transaction but no OPEN transaction was returned by listTransactions (preview endpoint)")
		}
	}

	if err := retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
		return client.UploadFile(ctx, outputRef.RID, txnID, outputFilename, "text/csv", csv)
	}); err != nil {
		return fmt.Errorf("upload %s: %w", outputFilename, err)
	}

	if createdTxn {
		if err := retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
			return client.CommitTransaction(ctx, outputRef.RID, txnID)
		}); err != nil {
			return fmt.Errorf("commit output transaction: %w", err)
		}
	}
	return nil
}

func isOpenTransactionAlreadyExists(err error) bool {
	var he *foundry.HTTPError
	return errors.As(err, &he) && he.Conflict("OpenTransactionAlreadyExists")
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *foundry.HTTPError
	if errors.As(err, &he) {
		return he.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout() || ne.Temporary()
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

func retryTransient(ctx context.Context, attempts int, initialSleep time.Duration, f func() error) error {
	sleep := initialSleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := f(); err == nil {
			return nil
		} else {
			lastErr = err
			if !isTransient(err) || i == attempts-1 {
				return err
			}
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep *= 2
		if sleep > retryMaxSleep {
			sleep = retryMaxSleep
		}
	}
	return lastErr
}

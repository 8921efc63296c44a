/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package backoff

import (
	"time"
)

// Retry runs f up to count times, sleeping interval between attempts.
// Attempts stop early when shouldRetry reports false for the returned error.
func Retry(f func() error, count int, interval time.Duration, shouldRetry func(error) bool) error {
	var err error
	for i := 0; i < count; i++ {
		if err = f(); err == nil {
			return nil
		}
		if i == count-1 {
			break
		}
		if shouldRetry != nil && !shouldRetry(err) {
			break
		}
		time.Sleep(interval)
	}
	return err
}

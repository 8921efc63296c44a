/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"flag"
	"fmt"

	"k8s.io/klog/v2"
)

type Options struct {
	Config string
}

// InitFlags registers and parses the command line. klog's own flags ride
// along so log verbosity and output files stay tunable in the field.
func (opt *Options) InitFlags() error {
	if opt == nil {
		return fmt.Errorf("the options is not initialized")
	}
	klog.InitFlags(flag.CommandLine)
	flag.StringVar(&opt.Config, "config", "", "Path to the vault config.yaml")
	flag.Parse()
	if opt.Config == "" {
		return fmt.Errorf("-config is not found")
	}
	return nil
}

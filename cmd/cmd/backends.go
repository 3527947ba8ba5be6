// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/deadash/cnclip/lib/backends"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List inference backends and detected accelerators",
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BACKEND\tNAME\tPRIORITY\tAVAILABLE")
	for _, b := range backends.ListRegistered() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", b.Type(), b.Name(), b.Priority(), b.Available())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d backends usable\n", len(backends.ListAvailable()), len(backends.ListRegistered()))

	if !backends.IsGPUAvailable() {
		fmt.Println("GPU: none detected, sessions run on CPU")
		return nil
	}
	gpu := backends.DetectGPU()
	fmt.Printf("GPU: %s (%s)", gpu.DeviceName, gpu.Type)
	if gpu.DriverVer != "" {
		fmt.Printf(", driver %s", gpu.DriverVer)
	}
	if gpu.CUDAVersion != "" {
		fmt.Printf(", compute capability %s", gpu.CUDAVersion)
	}
	fmt.Println()
	return nil
}

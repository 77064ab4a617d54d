// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/softlogic/services/inference/online"
)

// runClient connects to a running server and plays an action script
// (or stdin), then prints every response in arrival order.
func runClient(_ *cobra.Command, _ []string) {
	_, appLogger := loadConfig("client")
	defer appLogger.Close()
	logger := appLogger.Slog()

	var source io.Reader = os.Stdin
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			log.Fatalf("Error opening script: %v", err)
		}
		defer f.Close()
		source = f
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := online.Dial(dialCtx, serverAddr, logger)
	if err != nil {
		log.Fatalf("Error connecting to %s: %v", serverAddr, err)
	}

	predicates := client.Model().Predicates
	logger.Info("connected", "addr", serverAddr, "predicates", len(predicates))

	if err := client.RunScript(source); err != nil {
		// Keep the session recoverable for the responses received so
		// far, but report the bad line.
		log.Printf("Script error: %v", err)
	}

	// A script that ends without Stop/Exit would leave the server
	// holding the connection open; close the session explicitly.
	exit, err := online.ParseCommand("Exit", client.Model())
	if err == nil {
		if err := client.Submit(exit); err != nil && !errors.Is(err, online.ErrSessionClosed) {
			log.Printf("Error closing session: %v", err)
		}
	}

	if err := client.Wait(); err != nil {
		log.Fatalf("Session error: %v", err)
	}

	for _, resp := range client.Responses() {
		printResponse(resp)
	}
}

func printResponse(resp online.Response) {
	switch resp.Kind {
	case online.ResponseQuery:
		fmt.Printf("%v\n", resp.Value)
	default:
		status := "OK"
		if !resp.Success {
			status = "FAILED"
		}
		fmt.Printf("%s: %s\n", status, resp.Message)
	}
}

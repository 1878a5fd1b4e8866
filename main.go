// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("📦 InspiraStock - Offline-First Inventory Sync")
	fmt.Println("==============================================")
	fmt.Println()
	fmt.Println("InspiraStock keeps supplier price lists, personal stock and delivery")
	fmt.Println("notes usable with or without connectivity: every write lands in a local")
	fmt.Println("SQLite mirror, offline writes queue for replay, and a reconciler drains")
	fmt.Println("the queue in order once the backend is reachable again.")
	fmt.Println()

	fmt.Println("📚 Where to start:")
	fmt.Println()
	fmt.Println("1. 🚀 Quickstart (examples/quickstart/)")
	fmt.Println("   Offline import, delivery note and stock adjustment, then a drain")
	fmt.Println("   against the in-process backend double")
	fmt.Println("   Run: cd examples/quickstart && go run .")
	fmt.Println()

	fmt.Println("2. 🌐 Reference backend (cmd/inspirastockd/)")
	fmt.Println("   Postgres-backed sync server: per-user row storage, idempotent stock")
	fmt.Println("   procedures, currency conversion and ranked search behind JWT auth")
	fmt.Println("   Run: INSPIRA_DATABASE_URL=... INSPIRA_JWT_SECRET=... go run ./cmd/inspirastockd")
	fmt.Println()

	fmt.Println("3. 🧩 Library packages")
	fmt.Println("   repository/ is the application-facing surface; localstore/, syncer/,")
	fmt.Println("   remote/ and pricing/ sit underneath it")
	fmt.Println()
}

package main

import "os"

// parentContainerID returns the orchestrator's own container ID, set by the
// worker image's entrypoint via HAL9000_PARENT_CONTAINER_ID, so Worker
// Spawner can attach workers to "container:<parent-id>" (spec §4.7). Empty
// when hal9000d runs directly on the host (local development).
func parentContainerID() string {
	return os.Getenv("HAL9000_PARENT_CONTAINER_ID")
}

// Command dsm runs one process of a distributed shared memory run. Every
// process of the run is started with the same peer table and its own rank;
// rank 0 becomes the coordinator.
package main

func main() {
	Execute()
}

// Command moonbotctl is the operator CLI for a running moonbotd: it talks
// to the Gateway over the same WebSocket JSON-RPC 2.0 wire protocol a
// chat surface would use, plus a few out-of-band conveniences (pidfile
// based start/stop, config import/export, log tailing) that have no RPC
// equivalent. Grounded on the teacher's cmd/root.go command-tree layout.
package main

func main() {
	Execute()
}

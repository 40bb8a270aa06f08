// Command sskinsert-demo runs a small in-process simulation of several
// overlay nodes performing real SSK inserts against each other,
// including a staged collision and a staged route-not-found case.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"time"

	"sskinsert/internal/insertsender"
	"sskinsert/internal/nodeenv"
	"sskinsert/internal/sskkey"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	fmt.Println("=== scenario 1: ordinary successful insert to a directly connected peer ===")
	scenarioSuccess(logger)

	fmt.Println("\n=== scenario 2: collision resolution ===")
	scenarioCollision(logger)

	fmt.Println("\n=== scenario 3: route not found ===")
	scenarioRouteNotFound(logger)
}

// newNode constructs and starts a node environment listening on a
// kernel-assigned loopback port, so several peers can run inside one
// process.
func newNode(logger *log.Logger, name string) *nodeenv.Node {
	dir, err := os.MkdirTemp("", "sskinsert-demo-"+name+"-")
	if err != nil {
		log.Fatalf("tempdir for %s: %v", name, err)
	}
	n, err := nodeenv.New(nodeenv.Config{
		Name:    name,
		Bind:    "127.0.0.1:0",
		DataDir: dir,
		MaxHops: 20,
	}, logger)
	if err != nil {
		log.Fatalf("create node %s: %v", name, err)
	}
	if err := n.Start(); err != nil {
		log.Fatalf("start node %s: %v", name, err)
	}
	return n
}

// connect dials from into to's listen address and waits briefly for the
// Noise handshake and routing-table bookkeeping to settle.
func connect(from, to *nodeenv.Node) {
	if err := from.Overlay.ConnectTo(to.Overlay.ListenAddr()); err != nil {
		log.Fatalf("connect %s -> %s: %v", from.Overlay.ID(), to.Overlay.ID(), err)
	}
	time.Sleep(150 * time.Millisecond)
}

func scenarioSuccess(logger *log.Logger) {
	n1 := newNode(logger, "origin")
	n2 := newNode(logger, "relay")
	n3 := newNode(logger, "store")
	defer n1.Stop()
	defer n2.Stop()
	defer n3.Stop()

	connect(n1, n2)
	connect(n2, n3)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	job, err := n1.InsertLocal(priv, "demo-slot", []byte("demo headers"), []byte("hello ssk network"), 4)
	if err != nil {
		log.Fatalf("insert: %v", err)
	}

	status := awaitTerminal(job)
	fmt.Printf("final status: %s (sentRequest=%v, htl=%d)\n", status, job.SentRequest(), job.GetHTL())
}

func scenarioCollision(logger *log.Logger) {
	n1 := newNode(logger, "origin2")
	n2 := newNode(logger, "holder")
	defer n1.Stop()
	defer n2.Stop()

	connect(n1, n2)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	// Pre-seed n2's store with a different block under the same (priv, slot)
	// so the insert n1 originates below arrives to find the slot occupied.
	existing, err := sskkey.NewSignedBlock(priv, "shared-slot", 1, []byte("old headers"), []byte("preexisting data 0xAA"))
	if err != nil {
		log.Fatalf("build existing block: %v", err)
	}
	if err := n2.Store.Put(existing); err != nil {
		log.Fatalf("seed existing block: %v", err)
	}

	job, err := n1.InsertLocal(priv, "shared-slot", []byte("new headers"), []byte("attempted new data"), 3)
	if err != nil {
		log.Fatalf("insert: %v", err)
	}

	status := awaitTerminal(job)
	fmt.Printf("final status: %s, hasCollided=%v, data=%q\n", status, job.HasCollided(), string(job.GetData()))
}

func scenarioRouteNotFound(logger *log.Logger) {
	isolated := newNode(logger, "lonely")
	defer isolated.Stop()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	job, err := isolated.InsertLocal(priv, "orphan-slot", nil, []byte("nobody will see this"), 5)
	if err != nil {
		log.Fatalf("insert: %v", err)
	}

	status := awaitTerminal(job)
	fmt.Printf("final status: %s (sentRequest=%v)\n", status, job.SentRequest())
}

func awaitTerminal(job *insertsender.Job) insertsender.Status {
	done := make(chan insertsender.Status, 1)
	go func() { done <- job.AwaitTerminal() }()
	select {
	case s := <-done:
		return s
	case <-time.After(10 * time.Second):
		return job.GetStatus()
	}
}

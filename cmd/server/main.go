// Command server brings up the storage engine's core components —
// buffer pool, WAL, lock manager, heap table, and a B+tree index — and
// runs a small fixed demo against them. There is no SQL layer or network
// surface yet; wiring those is future work, not this binary's job.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nova-db/novadb/internal"
	"github.com/nova-db/novadb/internal/btree"
	"github.com/nova-db/novadb/internal/bufferpool"
	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/lock"
	"github.com/nova-db/novadb/internal/storage"
	"github.com/nova-db/novadb/internal/txn"
	"github.com/nova-db/novadb/internal/wal"
)

func main() {
	workDir := flag.String("data-dir", "./data", "working directory for database files")
	configPath := flag.String("config", "", "optional YAML config file (overrides data-dir)")
	flag.Parse()

	cfg := &internal.EngineConfig{}
	if *configPath != "" {
		loaded, err := internal.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg.Defaults()
		cfg.Storage.Workdir = *workDir
	}

	if err := os.MkdirAll(cfg.Storage.Workdir, storage.FileMode0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	disk, err := storage.NewDiskManager(cfg.Storage.Workdir, "novadb")
	if err != nil {
		log.Fatalf("failed to open disk manager: %v", err)
	}
	defer disk.Close()

	logMgr := wal.NewManager(disk, cfg.Log.BufferSize, cfg.LogTimeout())
	logMgr.Start()
	defer logMgr.Stop()

	pool := bufferpool.NewManager(cfg.BufferPoolSize, disk, logMgr)
	table := heap.NewTable(pool)
	locks := lock.NewManager(cfg.StrictTwoPhaseLocking)
	txns := txn.NewManager(locks, logMgr, table)

	index, err := btree.NewTree(pool, "primary")
	if err != nil {
		log.Fatalf("failed to open primary index: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigChan
		fmt.Println("shutting down...")
		close(done)
	}()

	fmt.Printf("novadb started, data directory: %s\n", cfg.Storage.Workdir)
	runDemo(pool, txns, table, index)

	<-done
}

// runDemo inserts a handful of rows through a committed transaction,
// indexes them, and scans the index back — the same shape as spec.md
// §8's serial insert-and-scan scenario.
func runDemo(pool *bufferpool.Manager, txns *txn.Manager, table *heap.Table, index *btree.Tree) {
	demoFrame, err := pool.NewPage()
	if err != nil {
		slog.Error("demo page allocation failed", "error", err)
		return
	}
	demoPageID := demoFrame.PageID
	pool.UnpinPage(demoPageID, true)

	t := txns.Begin()
	for key := int64(1); key <= 5; key++ {
		tuple := []byte(fmt.Sprintf("row-%d", key))
		rid, err := table.InsertTuple(demoPageID, tuple, 0)
		if err != nil {
			slog.Error("demo insert failed", "key", key, "error", err)
			txns.Abort(t)
			return
		}
		t.RecordInsert(rid)
		if ok, err := index.Insert(key, rid); err != nil || !ok {
			slog.Error("demo index insert failed", "key", key, "error", err)
			txns.Abort(t)
			return
		}
	}
	txns.Commit(t)

	it, err := index.Begin()
	if err != nil {
		slog.Error("demo scan failed", "error", err)
		return
	}
	defer it.Close()
	for !it.IsEnd() {
		key, rid := it.Entry()
		tuple, err := table.ReadTuple(rid)
		if err != nil {
			slog.Error("demo read failed", "key", key, "error", err)
			return
		}
		fmt.Printf("key=%d rid=%+v tuple=%q\n", key, rid, tuple)
		if err := it.Next(); err != nil {
			slog.Error("demo iterator advance failed", "error", err)
			return
		}
	}
}

package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/emptyOVO/batchkit-go/batch"
)

func getenvDefault(name, d string) string {
	v := os.Getenv(name)
	if v == "" {
		return d
	}
	return v
}

func getenvInt(name string, d int) int {
	v := os.Getenv(name)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

// Loads a generated registration file into a local sqlite database.
func main() {
	workDir := getenvDefault("WORK_DIR", filepath.Join(os.TempDir(), "batch-minimal"))
	source := filepath.Join(workDir, "cadastros.csv")
	sink := batch.DBConfig{Driver: "sqlite", Path: filepath.Join(workDir, "pessoa.db")}

	ctx := context.Background()
	if err := batch.PrepareSyntheticSource(ctx, batch.PrepareConfig{
		Path:         source,
		Rows:         int64(getenvInt("ROWS", 1000)),
		CommentEvery: 100,
	}); err != nil {
		log.Fatal(err)
	}

	db, d, err := batch.OpenForApp(ctx, sink)
	if err != nil {
		log.Fatal(err)
	}
	if err := batch.PrepareSinkTable(ctx, db, d, "pessoa"); err != nil {
		log.Fatal(err)
	}
	db.Close()

	result, err := batch.RunFlow(ctx, batch.JobConfig{
		Reader:       batch.ReaderConfig{Path: source},
		SinkDB:       sink,
		RepositoryDB: batch.DBConfig{Driver: batch.DriverMemory},
		LockDir:      filepath.Join(workDir, "locks"),
	}, batch.RunParams{})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("run %d %s: read=%d written=%d", result.RunID, result.Status, result.ReadCount, result.WriteCount)
}

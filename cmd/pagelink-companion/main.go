// Command pagelink-companion serves a directory of pages to a pagelink
// reader, standing in for the phone app.
package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pagelink/internal/companion"
	"pagelink/internal/config"
	"pagelink/internal/crypto"
	"pagelink/internal/identity"
	"pagelink/internal/logging"
	"pagelink/internal/transport"
)

func main() {
	connect := flag.String("connect", "127.0.0.1:7420", "reader link address")
	dir := flag.String("dir", ".", "library directory: one subdirectory per entry")
	identityDir := flag.String("identity", "~/.pagelink-companion", "directory holding the companion key")
	readerKey := flag.String("reader-key", "", "hex link key the reader must present (optional)")
	chunk := flag.Int("chunk", companion.DefaultChunkSize, "PAGE_DATA payload bytes")
	shuffle := flag.Bool("shuffle", false, "send page chunks in random order")
	delay := flag.Duration("chunk-delay", 0, "pause between page chunks")
	omitTotal := flag.Bool("omit-total", false, "send PAGE_START without a total")
	showKey := flag.Bool("show-key", false, "print this companion's link key, then exit")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logging.Init(*logLevel, "text")
	logger := logging.For("main")

	id, err := identity.Load(config.ExpandHome(*identityDir))
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	key, err := crypto.LinkKey(id)
	if err != nil {
		log.Fatalf("link key: %v", err)
	}
	if *showKey {
		os.Stdout.WriteString(crypto.FormatLinkKey(key.Public) + "\n")
		return
	}

	var want []byte
	if *readerKey != "" {
		if want, err = crypto.ParseLinkKey(*readerKey); err != nil {
			log.Fatalf("reader key: %v", err)
		}
	}

	lib := companion.NewDirLibrary(config.ExpandHome(*dir))
	entries, err := lib.Entries()
	if err != nil {
		log.Fatalf("library: %v", err)
	}
	logger.Info("library loaded", "dir", *dir, "entries", len(entries))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, err := transport.Dial(dialCtx, *connect, key, transport.DialConfig{})
	cancel()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	if want != nil && !bytes.Equal(conn.RemoteStatic(), want) {
		_ = conn.Close()
		log.Fatalf("connect: reader presented %s, want %s", crypto.FormatLinkKey(conn.RemoteStatic()), *readerKey)
	}
	logger.Info("connected", "reader", *connect, "link_key", crypto.FormatLinkKey(key.Public))

	c := companion.New(lib, companion.Config{
		ChunkSize:  *chunk,
		Shuffle:    *shuffle,
		ChunkDelay: *delay,
		OmitTotal:  *omitTotal,
	})
	if err := c.Serve(ctx, conn); err != nil && ctx.Err() == nil {
		log.Fatalf("serve: %v", err)
	}
	transfers, canceled := c.Counts()
	logger.Info("session over", "transfers", transfers, "canceled", canceled)
}

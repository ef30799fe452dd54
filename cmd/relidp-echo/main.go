// Command relidp-echo is a small interoperability harness for the relidp
// transport: run it once as a listener and once as a sender to watch a
// message survive fragmentation, pacing, and the selective-repeat recovery
// path across a real UDP socket.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/relidp/relidp"
	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/rlog"
)

func main() {
	var (
		listenPort = flag.Uint("port", 9110, "local UDP port to bind")
		remoteHost = flag.String("remote-host", "", "remote host to send to (listener mode if empty)")
		remotePort = flag.Uint("remote-port", 0, "remote UDP port to send to")
		family     = flag.String("family", "4", "address family: 4 or 6")
		message    = flag.String("message", "hello from relidp-echo", "payload to send")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logLevel := rlog.LevelError
	if *verbose {
		logLevel = rlog.LevelVerbose
	}
	log.SetFlags(0)

	fam := peer.V4
	if *family == "6" {
		fam = peer.V6
	}

	opts := relidp.Options{
		Port:   uint16(*listenPort),
		Family: fam,
		Logger: rlog.NewLogger(logLevel, "relidp-echo: "),
		OnMessage: func(payload []byte, p peer.Key, id uint32) {
			fmt.Printf("received %d bytes from %s (transfer %d): %q\n", len(payload), p, id, payload)
		},
		OnDrain: func(id uint32, p peer.Key) {
			fmt.Printf("transfer %d to %s acknowledged\n", id, p)
		},
		OnTimeout: func(id uint32, p peer.Key) {
			fmt.Printf("transfer %d to %s timed out\n", id, p)
		},
	}

	if *remoteHost != "" {
		opts = opts.WithRemote(uint16(*remotePort), *remoteHost, fam)
	}

	ep, err := relidp.Bind(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind: %v\n", err)
		os.Exit(1)
	}
	defer ep.Close()

	if *remoteHost == "" {
		fmt.Printf("listening on %s, waiting for transfers (ctrl-c to exit)\n", ep.LocalAddr())
		select {}
	}

	id, err := ep.Send([]byte(*message), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}
	if id == nil {
		fmt.Println("empty message, nothing sent")
		return
	}
	fmt.Printf("sent transfer %d (%d bytes) to %s:%d, waiting for drain\n", *id, len(*message), *remoteHost, *remotePort)
	time.Sleep(5 * time.Second)
}

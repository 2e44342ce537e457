/*Command odinflash drives a Samsung device in Download Mode: list
candidate devices, connect, load a firmware archive, flash it, optionally
dump the device's PIT, and disconnect.

Its command dispatch and config-file handling is grounded on
cmd/andorhttp3/main.go's root()/setupconfig()/switch-on-argv shape; its
direct-hardware-exercise style (no HTTP server in the main flashing path)
follows cmd/andortest/main.go.
*/
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/fatih/color"

	"github.com/nasa-jpl/odinflash/config"
	"github.com/nasa-jpl/odinflash/flasher"
	"github.com/nasa-jpl/odinflash/internal/progress"
	"github.com/nasa-jpl/odinflash/status"
)

func root() {
	str := `odinflash drives a device in Samsung Download Mode over USB.

Usage:
	odinflash <command> [firmware.tar]

Commands:
	list        list candidate devices
	flash       flash the given firmware archive and reboot
	dump-pit    connect and print the device's PIT, no transfer
	version`
	fmt.Println(str)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	switch args[1] {
	case "list":
		cmdList(cfg)
	case "flash":
		if len(args) < 3 {
			log.Fatal("flash requires a firmware archive path")
		}
		cmdFlash(cfg, args[2])
	case "dump-pit":
		cmdDumpPit(cfg)
	case "version":
		fmt.Println("odinflash 1")
	default:
		log.Fatalf("unknown command %q", args[1])
	}
}

func flasherConfig(cfg config.Config) flasher.Config {
	return flasher.Config{
		VendorID:         cfg.VendorID,
		ProductIDs:       cfg.ProductIDs,
		CommandTimeout:   cfg.CommandTimeout,
		FinalizerTimeout: cfg.FinalizerTimeout,
	}
}

func cmdList(cfg config.Config) {
	f := flasher.New(flasherConfig(cfg))
	devices, err := f.ListDevices()
	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
	for _, d := range devices {
		fmt.Printf("%04X:%04X %s %s (serial %s)\n", d.VendorID, d.ProductID, d.Manufacturer, d.Product, d.Serial)
	}
}

func cmdDumpPit(cfg config.Config) {
	f := flasher.New(flasherConfig(cfg))
	defer f.Disconnect()
	info, err := f.Connect()
	if err != nil {
		color.Red("connect failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("connected, protocol version %d\n", info.ProtocolVersion)
	data, err := f.DumpPit()
	if err != nil {
		color.Red("pit dump failed: %v", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

func cmdFlash(cfg config.Config, path string) {
	file, err := os.Open(path)
	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}

	f := flasher.New(flasherConfig(cfg))
	defer f.Disconnect()

	info, err := f.Connect()
	if err != nil {
		color.Red("connect failed: %v", err)
		os.Exit(1)
	}
	color.Green("connected to %s %s (protocol v%d)", info.Manufacturer, info.Product, info.ProtocolVersion)

	fw, err := f.LoadFirmware(file, st.Size())
	if err != nil {
		color.Red("firmware load failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d members\n", len(fw.Members))

	pub := status.NewPublisher()
	if cfg.StatusAddr != "" {
		srv := status.NewServer(pub)
		go func() {
			log.Printf("status server listening on %s", cfg.StatusAddr)
			if err := http.ListenAndServe(cfg.StatusAddr, srv.Handler()); err != nil {
				log.Printf("status server stopped: %v", err)
			}
		}()
	}

	cb := func(s progress.Snapshot) {
		pub.Set(status.Snapshot{Phase: "transferring", Progress: s})
		fmt.Printf("\r%s: %d/%d bytes (%.1f%%)", s.CurrentMember, s.BytesSent, s.BytesTotal, s.Percent)
	}

	if err := f.Flash(fw, nil, true, cb); err != nil {
		fmt.Println()
		color.Red("flash failed: %v", err)
		os.Exit(1)
	}
	fmt.Println()
	color.Green("flash complete")
}

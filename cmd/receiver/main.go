package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"RUDP/pkg/connection"
	"RUDP/pkg/filetransfer"
	"RUDP/pkg/flowcontrol"
	"RUDP/pkg/stats"
)

const (
	ProtocolId = 0x11223344
	ServerPort = 30000
	TimeOut    = 10.0
)

var DeltaTime = 1.0 / 30.0

func main() {
	outputDir := "."
	if len(os.Args) > 1 {
		outputDir = os.Args[1]
	}

	partPath := filepath.Join(outputDir, "incoming.part")
	out, err := os.Create(partPath)
	if err != nil {
		fmt.Printf("could not create %q: %v\n", partPath, err)
		os.Exit(1)
	}
	defer out.Close()
	receiver := filetransfer.NewReceiver(out)

	conn := connection.NewConnection(ProtocolId, TimeOut)
	conn.OnStateChange = func(from, to connection.State) {
		fmt.Printf("connection: %v -> %v\n", from, to)
	}
	if err := conn.Start(ServerPort); err != nil {
		fmt.Printf("could not start connection on port %d: %v\n", ServerPort, err)
		os.Exit(1)
	}
	defer conn.Stop()
	if err := conn.Listen(); err != nil {
		fmt.Printf("listen: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("listening on port %d\n", ServerPort)

	fc := flowcontrol.New()
	fc.OnModeChange = func(m flowcontrol.Mode) {
		fmt.Printf("flow control: %v mode\n", m)
	}
	reporter := stats.NewReporter(os.Stdout, 0.25)

	recvBuf := make([]byte, connection.MaxPayloadSize)
	sendAccumulator := 0.0
	lingerTime := 0.0
	wasConnected := false

	ticker := time.NewTicker(time.Duration(DeltaTime * float64(time.Second)))
	defer ticker.Stop()
	for range ticker.C {
		if conn.IsConnected() {
			wasConnected = true
		} else if wasConnected {
			fc.Reset()
			break
		}

		for {
			n := conn.ReceivePacket(recvBuf)
			if n == 0 {
				break
			}
			if err := receiver.HandleMessage(recvBuf[:n]); err != nil {
				fmt.Printf("bad message: %v\n", err)
			}
		}

		// Keepalives carry the acks back to the sender.
		if conn.IsConnected() {
			sendAccumulator += DeltaTime
			for sendAccumulator > 1.0/fc.SendRate() {
				if err := conn.SendPacket(nil); err != nil {
					break
				}
				sendAccumulator -= 1.0 / fc.SendRate()
			}
		}

		conn.Update(DeltaTime)
		fc.Update(DeltaTime, conn.Tracker().RoundTripTime()*1000.0)
		reporter.Update(DeltaTime, conn, fc)

		// Once the stream is complete (or the sender signalled done),
		// linger briefly so the last acks go out, then stop.
		if receiver.Complete() || receiver.DoneSeen() {
			lingerTime += DeltaTime
			if lingerTime > 2.0 {
				break
			}
		} else {
			lingerTime = 0
		}
	}

	out.Close()
	meta := receiver.Metadata()
	if meta == nil {
		fmt.Println("no metadata received, nothing saved")
		os.Remove(partPath)
		os.Exit(1)
	}
	fmt.Printf("received %d of %d bytes", receiver.WrittenBytes(), meta.Size)
	if missing := receiver.MissingChunks(); missing > 0 {
		fmt.Printf(" (%d chunks lost)", missing)
	}
	fmt.Println()

	if !receiver.Complete() {
		fmt.Println("transfer incomplete, keeping partial file")
		os.Exit(1)
	}
	if !receiver.VerifyHash() {
		fmt.Println("md5 mismatch, keeping partial file")
		os.Exit(1)
	}

	finalPath := filepath.Join(outputDir, filepath.Base(meta.Name))
	if err := os.Rename(partPath, finalPath); err != nil {
		fmt.Printf("could not rename %q: %v\n", partPath, err)
		os.Exit(1)
	}
	fmt.Printf("saved %q, md5 verified\n", finalPath)
}

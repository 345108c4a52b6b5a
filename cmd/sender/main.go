package main

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"RUDP/pkg/connection"
	"RUDP/pkg/filetransfer"
	"RUDP/pkg/flowcontrol"
	"RUDP/pkg/stats"
)

const (
	ProtocolId = 0x11223344
	ServerPort = 30000
	ClientPort = 30001
	TimeOut    = 10.0
)

var DeltaTime = 1.0 / 30.0

func main() {
	if len(os.Args) != 3 {
		fmt.Printf("Usage: %s <server-ip> <file>\n", os.Args[0])
		os.Exit(1)
	}
	serverAddr, err := netip.ParseAddr(os.Args[1])
	if err != nil {
		fmt.Printf("invalid server address %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	fileName := os.Args[2]

	sender, err := filetransfer.NewSender(fileName)
	if err != nil {
		fmt.Printf("could not open %q: %v\n", fileName, err)
		os.Exit(1)
	}
	defer sender.Close()
	meta := sender.Metadata()
	fmt.Printf("sending %q: %d bytes in %d chunks, md5 %x\n",
		meta.Name, meta.Size, filetransfer.TotalChunks(meta.Size), meta.Hash)

	conn := connection.NewConnection(ProtocolId, TimeOut)
	conn.OnStateChange = func(from, to connection.State) {
		fmt.Printf("connection: %v -> %v\n", from, to)
	}
	if err := conn.Start(ClientPort); err != nil {
		fmt.Printf("could not start connection on port %d: %v\n", ClientPort, err)
		os.Exit(1)
	}
	defer conn.Stop()
	conn.Connect(netip.AddrPortFrom(serverAddr, ServerPort))

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
		if conn.ConnectFailed() {
			fmt.Println("connect failed")
			os.Exit(1)
		}
		if conn.IsConnected() {
			wasConnected = true
		} else if wasConnected {
			fc.Reset()
			fmt.Println("connection dropped, aborting transfer")
			os.Exit(1)
		}

		if conn.IsConnected() {
			sendAccumulator += DeltaTime
			for sendAccumulator > 1.0/fc.SendRate() {
				payload, err := sender.NextPayload()
				if err != nil {
					fmt.Printf("read error: %v\n", err)
					os.Exit(1)
				}
				if err := conn.SendPacket(payload); err != nil {
					break
				}
				sendAccumulator -= 1.0 / fc.SendRate()
			}
		}

		for conn.ReceivePacket(recvBuf) > 0 {
		}

		conn.Update(DeltaTime)
		fc.Update(DeltaTime, conn.Tracker().RoundTripTime()*1000.0)
		reporter.Update(DeltaTime, conn, fc)

		// Linger after the last chunk so the done markers and the
		// final acks make it across.
		if sender.Done() && conn.IsConnected() {
			lingerTime += DeltaTime
			if lingerTime > 3.0 {
				break
			}
		}
	}

	tr := conn.Tracker()
	fmt.Printf("done: %d chunks sent, %d packets sent, %d acked, %d lost\n",
		sender.SentChunks(), tr.SentPackets(), tr.AckedPackets(), tr.LostPackets())
}

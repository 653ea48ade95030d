package pcap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/irctrakz/mcastrec/pkg/frame"
)

// ImportOptions select which UDP datagrams become frames.
type ImportOptions struct {
	// Port keeps only datagrams to this destination port; 0 keeps all.
	Port int

	// Dst keeps only datagrams to this address; nil keeps all.
	Dst net.IP
}

// ImportStats summarize an import.
type ImportStats struct {
	Packets  int
	Imported int
	Skipped  int
}

// FrameWriter receives imported frames. *frame.Writer implements it.
type FrameWriter interface {
	WriteFrame(ts int64, payload []byte) error
}

// packetSource is the subset shared by pcapgo.Reader and pcapgo.NgReader.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Import appends UDP payloads from the capture at pcapPath to the log at
// logPath, stamped with their capture times.
func Import(pcapPath, logPath string, opts ImportOptions) (ImportStats, error) {
	in, err := os.Open(pcapPath)
	if err != nil {
		return ImportStats{}, err
	}
	defer in.Close()

	w, err := frame.OpenWriter(logPath)
	if err != nil {
		return ImportStats{}, err
	}
	stats, err := ImportFrom(in, w, opts)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return stats, err
}

// ImportFrom reads a pcap or pcapng stream and writes one frame per matching
// UDP datagram. IP fragments are skipped.
func ImportFrom(r io.Reader, w FrameWriter, opts ImportOptions) (ImportStats, error) {
	var stats ImportStats

	src, err := openSource(r)
	if err != nil {
		return stats, err
	}
	linkType := src.LinkType()

	for {
		data, ci, err := src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		payload, ok := udpPayload(data, linkType, opts)
		if !ok {
			stats.Skipped++
			continue
		}
		if err := w.WriteFrame(ci.Timestamp.UnixMilli(), payload); err != nil {
			return stats, err
		}
		stats.Imported++
	}
}

func openSource(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if bytes.Equal(magic, ngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

func udpPayload(data []byte, linkType layers.LinkType, opts ImportOptions) ([]byte, bool) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	var dst net.IP
	if ip4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		if ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0 {
			return nil, false
		}
		dst = ip4.DstIP
	} else if ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		dst = ip6.DstIP
	}

	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, false
	}
	if opts.Port != 0 && int(udp.DstPort) != opts.Port {
		return nil, false
	}
	if opts.Dst != nil && !opts.Dst.Equal(dst) {
		return nil, false
	}
	if len(udp.Payload) == 0 || len(udp.Payload) > frame.MaxPayload {
		return nil, false
	}
	return udp.Payload, true
}

// Package pcap converts between frame logs and pcap captures so recordings
// can be inspected with standard packet tools.
package pcap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/irctrakz/mcastrec/pkg/frame"
	"github.com/irctrakz/mcastrec/pkg/logging"
)

// MaxUDPPayload is the largest payload an IPv4 UDP datagram can carry.
const MaxUDPPayload = 65507

const snapLen = 65536

// ExportOptions describe the synthesized IP/UDP headers.
type ExportOptions struct {
	// Dst and DstPort are the group the datagrams are shown as sent to.
	Dst     net.IP
	DstPort int

	// Src and SrcPort default to 192.0.2.1 and DstPort.
	Src     net.IP
	SrcPort int

	// TTL of the synthesized IP header; defaults to 1.
	TTL int
}

func (o ExportOptions) withDefaults() (ExportOptions, error) {
	if o.Dst == nil {
		return o, fmt.Errorf("export: destination address required")
	}
	if o.DstPort <= 0 || o.DstPort > 65535 {
		return o, fmt.Errorf("export: invalid destination port %d", o.DstPort)
	}
	if o.Src == nil {
		if o.Dst.To4() != nil {
			o.Src = net.IPv4(192, 0, 2, 1)
		} else {
			o.Src = net.ParseIP("2001:db8::1")
		}
	}
	if (o.Src.To4() == nil) != (o.Dst.To4() == nil) {
		return o, fmt.Errorf("export: source %s and destination %s differ in family", o.Src, o.Dst)
	}
	if o.SrcPort <= 0 {
		o.SrcPort = o.DstPort
	}
	if o.TTL <= 0 {
		o.TTL = 1
	}
	return o, nil
}

// ExportStats summarize an export.
type ExportStats struct {
	Frames  int
	Skipped int
	// TailErr is the decode error that ended the log early, if any.
	TailErr error
}

// Export writes every frame of the log at logPath to a new pcap file.
func Export(logPath, pcapPath string, opts ExportOptions) (ExportStats, error) {
	in, err := os.Open(logPath)
	if err != nil {
		return ExportStats{}, err
	}
	defer in.Close()

	out, err := os.Create(pcapPath)
	if err != nil {
		return ExportStats{}, err
	}
	bw := bufio.NewWriter(out)

	stats, err := ExportTo(bufio.NewReader(in), bw, opts)
	if err != nil {
		out.Close()
		return stats, err
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return stats, err
	}
	return stats, out.Close()
}

// ExportTo converts a frame stream to pcap with LINKTYPE_RAW records. Frames
// too large for one UDP datagram are skipped.
func ExportTo(r io.Reader, w io.Writer, opts ExportOptions) (ExportStats, error) {
	var stats ExportStats

	opts, err := opts.withDefaults()
	if err != nil {
		return stats, err
	}

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return stats, err
	}

	buf := gopacket.NewSerializeBuffer()
	serializeOpts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	var id uint16

	for {
		f, err := frame.Decode(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				stats.TailErr = err
				logging.WithComponent("pcap").WithError(err).Warnf("log ends early after %d frames", stats.Frames)
			}
			return stats, nil
		}
		if len(f.Payload) > MaxUDPPayload {
			stats.Skipped++
			continue
		}

		id++
		if err := serializeDatagram(buf, serializeOpts, opts, id, f.Payload); err != nil {
			return stats, fmt.Errorf("frame %d: %w", stats.Frames+stats.Skipped, err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     time.UnixMilli(f.Timestamp),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pw.WritePacket(ci, data); err != nil {
			return stats, err
		}
		stats.Frames++
	}
}

func serializeDatagram(buf gopacket.SerializeBuffer, so gopacket.SerializeOptions, opts ExportOptions, id uint16, payload []byte) error {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(opts.SrcPort),
		DstPort: layers.UDPPort(opts.DstPort),
	}

	var network gopacket.NetworkLayer
	var ipLayer gopacket.SerializableLayer
	if opts.Dst.To4() != nil {
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			Id:       id,
			TTL:      uint8(opts.TTL),
			Protocol: layers.IPProtocolUDP,
			SrcIP:    opts.Src.To4(),
			DstIP:    opts.Dst.To4(),
		}
		network, ipLayer = ip, ip
	} else {
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   uint8(opts.TTL),
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      opts.Src.To16(),
			DstIP:      opts.Dst.To16(),
		}
		network, ipLayer = ip, ip
	}
	if err := udp.SetNetworkLayerForChecksum(network); err != nil {
		return err
	}
	return gopacket.SerializeLayers(buf, so, ipLayer, udp, gopacket.Payload(payload))
}

// Package trace records a kickstart exchange as a packet capture.
//
// The stream itself is not captured off the wire. Each Read and Write is
// framed into a synthetic Ethernet/IP/TCP packet so the PDUs open in any
// pcap viewer with the NVMe/TCP dissector.
package trace

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	FormatPcap   = "pcap"
	FormatPcapNG = "pcapng"

	snapLen = 65535
	// segmentSize caps the payload of one synthetic segment.
	segmentSize = 1448
)

var ErrUnknownFormat = errors.New("trace: unknown capture format")

var (
	hostMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	fallbackHost = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 49152}
	fallbackPeer = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8009}
)

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// Stats counts what the recorder captured.
type Stats struct {
	Packets  int
	BytesOut int
	BytesIn  int
	Failed   int
}

// Recorder wraps a stream and writes every byte it carries to a capture.
// Capture failures are counted and logged; they never fail the stream.
type Recorder struct {
	rw io.ReadWriter

	mu     sync.Mutex
	w      packetWriter
	ng     *pcapgo.NgWriter
	closer io.Closer
	host   *net.TCPAddr
	peer   *net.TCPAddr
	seqOut uint32
	seqIn  uint32
	stats  Stats
	now    func() time.Time
}

// FormatForPath picks the capture format from a file extension.
func FormatForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".pcapng") {
		return FormatPcapNG
	}
	return FormatPcap
}

// NewRecorder writes a capture of rw to out. local and remote label the
// synthetic flow; non TCP addresses fall back to loopback.
func NewRecorder(out io.Writer, format string, rw io.ReadWriter, local, remote net.Addr) (*Recorder, error) {
	r := &Recorder{
		rw:     rw,
		host:   tcpAddr(local, fallbackHost),
		peer:   tcpAddr(remote, fallbackPeer),
		seqOut: 1,
		seqIn:  1,
		now:    time.Now,
	}
	// Mixed families cannot share one IP header.
	if (r.host.IP.To4() == nil) != (r.peer.IP.To4() == nil) {
		r.host, r.peer = fallbackHost, fallbackPeer
	}
	switch format {
	case "", FormatPcap:
		pw := pcapgo.NewWriter(out)
		if err := pw.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
			return nil, fmt.Errorf("trace: write header: %w", err)
		}
		r.w = pw
	case FormatPcapNG:
		ng, err := pcapgo.NewNgWriter(out, layers.LinkTypeEthernet)
		if err != nil {
			return nil, fmt.Errorf("trace: write header: %w", err)
		}
		r.w, r.ng = ng, ng
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return r, nil
}

// Create opens path and records conn into it. Close flushes and closes the
// file; it does not close conn.
func Create(path string, conn net.Conn) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	r, err := NewRecorder(f, FormatForPath(path), conn, conn.LocalAddr(), conn.RemoteAddr())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	logs.Debugf("trace.Create path=%s host=%s peer=%s", path, r.host, r.peer)
	return r, nil
}

func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.rw.Read(p)
	if n > 0 {
		r.record(false, p[:n])
	}
	return n, err
}

func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.rw.Write(p)
	if n > 0 {
		r.record(true, p[:n])
	}
	return n, err
}

// Stats returns a snapshot of the capture counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close flushes the capture and closes the file opened by Create.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.ng != nil {
		errs = append(errs, r.ng.Flush())
	}
	if r.closer != nil {
		errs = append(errs, r.closer.Close())
		r.closer = nil
	}
	return errors.Join(errs...)
}

func (r *Recorder) record(outbound bool, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if outbound {
		r.stats.BytesOut += len(payload)
	} else {
		r.stats.BytesIn += len(payload)
	}
	for len(payload) > 0 {
		n := min(len(payload), segmentSize)
		if err := r.writeSegment(outbound, payload[:n]); err != nil {
			r.stats.Failed++
			logs.Warnf("trace.Recorder write segment err=%v", err)
		} else {
			r.stats.Packets++
		}
		payload = payload[n:]
	}
}

func (r *Recorder) writeSegment(outbound bool, payload []byte) error {
	src, dst := r.host, r.peer
	srcMAC, dstMAC := hostMAC, peerMAC
	seq, ack := &r.seqOut, r.seqIn
	if !outbound {
		src, dst = r.peer, r.host
		srcMAC, dstMAC = peerMAC, hostMAC
		seq, ack = &r.seqIn, r.seqOut
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port),
		DstPort: layers.TCPPort(dst.Port),
		Seq:     *seq,
		Ack:     ack,
		ACK:     true,
		PSH:     true,
		Window:  65535,
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	var network gopacket.SerializableLayer
	if v4 := src.IP.To4(); v4 != nil {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    v4,
			DstIP:    dst.IP.To4(),
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		network = ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolTCP,
			SrcIP:      src.IP,
			DstIP:      dst.IP,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, tcp, gopacket.Payload(payload)); err != nil {
		return err
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		return err
	}
	*seq += uint32(len(payload))
	return nil
}

func tcpAddr(a net.Addr, fallback *net.TCPAddr) *net.TCPAddr {
	if t, ok := a.(*net.TCPAddr); ok && t != nil && t.IP != nil {
		return t
	}
	return fallback
}

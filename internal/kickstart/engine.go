package kickstart

import (
	"errors"
	"io"

	"github.com/danmuck/kdctl/internal/protocol/pdu"
	"github.com/danmuck/kdctl/internal/record"
	logs "github.com/danmuck/smplog"
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// Run performs one kickstart handshake over rw: ICReq/ICResp, then
// KDReq/KDResp carrying records. rw must already be connected; Run blocks
// until the exchange completes or fails and never retries. Timeouts are
// the caller's, usually as a deadline on the connection.
//
// A CDC rejection is returned as a Result with OutcomeRejected and a nil
// error. Any transport, encode or decode failure returns a *PhaseError.
func Run(rw io.ReadWriter, records []record.Port) (Result, error) {
	s := &session{phase: PhaseIdle}

	if err := sendICReq(s, rw); err != nil {
		return s.result, err
	}
	if err := recvICResp(s, rw); err != nil {
		return s.result, err
	}
	if err := sendKDReq(s, rw, records); err != nil {
		return s.result, err
	}
	if err := recvKDResp(s, rw); err != nil {
		return s.result, err
	}
	return s.result, nil
}

func sendICReq(s *session, w io.Writer) error {
	b, err := pdu.EncodeICReq(true)
	if err != nil {
		return s.fail(err, nil)
	}
	if err := writeFull(s, w, b); err != nil {
		return s.fail(ErrTransportWrite, err)
	}
	s.advance(PhaseICReqSent)
	logs.Debugf("kickstart.Run phase=%s bytes=%d", s.phase, len(b))
	return nil
}

func recvICResp(s *session, r io.Reader) error {
	b, err := readPDU(s, r, pdu.ICRespSize)
	if err != nil {
		return s.fail(ErrTransportRead, err)
	}
	resp, err := pdu.DecodeICResp(b)
	if err != nil {
		return s.fail(err, nil)
	}
	s.result.ICResp = resp
	s.advance(PhaseICRespOK)
	logs.Debugf("kickstart.Run phase=%s cpda=%d maxdata=%d", s.phase, resp.CPDA, resp.MaxData)
	return nil
}

func sendKDReq(s *session, w io.Writer, records []record.Port) error {
	enc, err := pdu.EncodeKDReq(records)
	s.result.Skipped = enc.Skipped
	for _, skip := range enc.Skipped {
		logs.Warnf("kickstart.Run skip record index=%d record=%s err=%v", skip.Index, skip.Record, skip.Err)
	}
	if err != nil {
		return s.fail(err, nil)
	}
	if err := writeFull(s, w, enc.Bytes); err != nil {
		return s.fail(ErrTransportWrite, err)
	}
	s.result.Registered = enc.Encoded
	s.advance(PhaseKDReqSent)
	logs.Debugf("kickstart.Run phase=%s records=%d bytes=%d", s.phase, enc.Count(), len(enc.Bytes))
	return nil
}

func recvKDResp(s *session, r io.Reader) error {
	b, err := readPDU(s, r, pdu.KDRespSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return s.fail(ErrPeerClosedConnection, nil)
		}
		return s.fail(ErrTransportRead, err)
	}
	resp, err := pdu.DecodeKDResp(b)
	if err != nil {
		return s.fail(err, nil)
	}
	s.result.Status = resp.Status
	s.result.FailureReason = resp.FailureReason
	if !resp.OK() {
		s.result.Outcome = OutcomeRejected
		s.advance(PhaseRejected)
		logs.Warnf("kickstart.Run rejected status=%d reason=%d", resp.Status, resp.FailureReason)
		return nil
	}
	s.result.Outcome = OutcomeRegistered
	s.result.CDCNQN = resp.NQN
	s.advance(PhaseDone)
	logs.Debugf("kickstart.Run phase=%s cdc_nqn=%q", s.phase, resp.NQN)
	return nil
}

func writeFull(s *session, w io.Writer, b []byte) error {
	n, err := w.Write(b)
	s.result.BytesSent += n
	if err != nil {
		return err
	}
	if n < len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// readPDU reads up to size bytes. A stream that ends before any byte
// arrives returns io.EOF; one that ends part way returns the partial PDU
// so the decoder classifies it.
func readPDU(s *session, r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	total := 0
	empty := 0
	for total < size {
		n, err := r.Read(buf[total:])
		total += n
		s.result.BytesReceived += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				if total == 0 {
					return nil, io.EOF
				}
				return buf[:total], nil
			}
			return nil, err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return nil, io.ErrNoProgress
			}
			continue
		}
		empty = 0
	}
	return buf, nil
}

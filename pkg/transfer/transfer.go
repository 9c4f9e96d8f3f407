// Package transfer implements DAP_Transfer, DAP_TransferBlock, and
// DAP_WriteABORT on top of either wire engine: posted-read pipelining,
// match-value polling, mask loads, timestamps, and early-abort.
package transfer

import "sync/atomic"

// ACK codes, duplicated from pkg/swd/pkg/jtag so this package has no import
// dependency on either line engine — only on the Engine capability below.
const (
	AckOK       = 0x01
	AckWait     = 0x02
	AckFault    = 0x04
	AckNoAck    = 0x07
	AckError    = 0x08
	AckMismatch = 0x10
)

// Transfer record flag bits, one byte per record.
const (
	FlagAPnDP      = 0x01
	FlagRnW        = 0x02
	FlagA2         = 0x04
	FlagA3         = 0x08
	FlagValueMatch = 0x10
	FlagMaskSet    = 0x20
	FlagTimestamp  = 0x80
)

// rdbuffNibble addresses the DP RDBUFF register (A[3:2]=0b11, read, DP).
const rdbuffNibble = FlagRnW | FlagA2 | FlagA3

// Engine is the capability both pkg/swd.Engine and the pkg/jtag chain
// adapter satisfy: one AP/DP access per call, addressed exactly as the
// transfer record's flag nibble (APnDP|RnW|A2|A3).
type Engine interface {
	Read(nibble uint8) (ack uint8, data uint32, timestamp uint32, haveTimestamp bool)
	Write(nibble uint8, data uint32) (ack uint8, timestamp uint32, haveTimestamp bool)
}

// Config mirrors the session's transfer_config: idle cycles are owned by
// the wire engine itself, so only the retry/match/mask fields the
// orchestrator consumes directly live here.
type Config struct {
	MatchRetry uint16
	MatchMask  uint32
}

// Orchestrator drives one Engine. It is not reentrant.
type Orchestrator struct {
	Engine Engine
	Config Config
}

// New returns an Orchestrator over the given engine.
func New(e Engine, cfg Config) *Orchestrator {
	return &Orchestrator{Engine: e, Config: cfg}
}

// Record is one parsed DAP_Transfer entry.
type Record struct {
	Flags uint8
	Data  uint32 // write payload, or match value when ValueMatch is set
}

// RecordOutcome is what one executed record contributed to the response.
type RecordOutcome struct {
	Ack           uint8
	Data          uint32
	HaveData      bool
	Timestamp     uint32
	HaveTimestamp bool
}

// BatchResult is the outcome of a full DAP_Transfer batch.
type BatchResult struct {
	Executed uint8
	LastAck  uint8
	Outcomes []RecordOutcome
}

// ParseRecords reads up to count transfer records from req, matching each
// record's byte length to its flags (1 byte, plus 4 payload bytes for
// writes and value-match reads). It stops early if req is too short for the
// declared count, returning the truncated slice and the actual bytes read.
func ParseRecords(req []byte, count int) (records []Record, consumed int) {
	pos := 0
	for i := 0; i < count; i++ {
		if pos >= len(req) {
			break
		}
		flags := req[pos]
		pos++
		var data uint32
		needsPayload := flags&FlagRnW == 0 || flags&FlagValueMatch != 0
		if needsPayload {
			if pos+4 > len(req) {
				break
			}
			data = uint32(req[pos]) | uint32(req[pos+1])<<8 | uint32(req[pos+2])<<16 | uint32(req[pos+3])<<24
			pos += 4
		}
		records = append(records, Record{Flags: flags, Data: data})
	}
	return records, pos
}

// Transfer executes a DAP_Transfer batch against the orchestrator's engine,
// honoring abort, mid-batch failure, posted-read drain, and match-value
// polling.
func (o *Orchestrator) Transfer(records []Record, abort *atomic.Bool) BatchResult {
	var result BatchResult
	postedOutstanding := false
	lastWasRead := false

	for _, rec := range records {
		if abort != nil && abort.Load() {
			break
		}

		rnw := rec.Flags&FlagRnW != 0
		apnDP := rec.Flags&FlagAPnDP != 0
		maskSet := rec.Flags&FlagMaskSet != 0
		valueMatch := rec.Flags&FlagValueMatch != 0
		wantTimestamp := rec.Flags&FlagTimestamp != 0

		nibble := rec.Flags & (FlagAPnDP | FlagRnW | FlagA2 | FlagA3)

		if !rnw && maskSet {
			o.Config.MatchMask = rec.Data
			result.Executed++
			result.LastAck = AckOK
			result.Outcomes = append(result.Outcomes, RecordOutcome{Ack: AckOK})
			lastWasRead = false
			continue
		}

		var outcome RecordOutcome
		if rnw && valueMatch {
			outcome = o.matchRead(nibble, rec.Data, wantTimestamp)
		} else if rnw {
			outcome = o.plainRead(nibble, wantTimestamp)
		} else {
			outcome = o.plainWrite(nibble, rec.Data, wantTimestamp)
		}

		if apnDP && rnw {
			// The first AP read of a run only posts the read: the word it
			// returns is stale, and its own value arrives with the next AP
			// read or the RDBUFF drain below.
			if !postedOutstanding {
				outcome.Data, outcome.HaveData = 0, false
			}
			postedOutstanding = true
		}

		result.Executed++
		result.LastAck = outcome.Ack
		result.Outcomes = append(result.Outcomes, outcome)
		lastWasRead = rnw

		if outcome.Ack != AckOK && outcome.Ack != AckOK|AckMismatch {
			return result
		}
	}

	if postedOutstanding {
		ack, data, ts, haveTS := o.Engine.Read(rdbuffNibble)
		result.LastAck = ack
		outcome := RecordOutcome{Ack: ack, Timestamp: ts, HaveTimestamp: haveTS}
		if lastWasRead {
			outcome.Data = data
			outcome.HaveData = ack == AckOK
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result
}

func (o *Orchestrator) plainRead(nibble uint8, wantTimestamp bool) RecordOutcome {
	ack, data, ts, haveTS := o.Engine.Read(nibble)
	out := RecordOutcome{Ack: ack}
	if ack == AckOK || ack == AckOK|AckMismatch {
		out.Data = data
		out.HaveData = true
	}
	if wantTimestamp && haveTS {
		out.Timestamp = ts
		out.HaveTimestamp = true
	}
	return out
}

func (o *Orchestrator) plainWrite(nibble uint8, data uint32, wantTimestamp bool) RecordOutcome {
	ack, ts, haveTS := o.Engine.Write(nibble, data)
	out := RecordOutcome{Ack: ack}
	if wantTimestamp && haveTS {
		out.Timestamp = ts
		out.HaveTimestamp = true
	}
	return out
}

func (o *Orchestrator) matchRead(nibble uint8, matchValue uint32, wantTimestamp bool) RecordOutcome {
	var last RecordOutcome
	for attempt := uint16(0); ; attempt++ {
		ack, data, ts, haveTS := o.Engine.Read(nibble)
		last = RecordOutcome{Ack: ack}
		if ack != AckOK {
			return last
		}
		if data&o.Config.MatchMask == matchValue&o.Config.MatchMask {
			if wantTimestamp && haveTS {
				last.Timestamp = ts
				last.HaveTimestamp = true
			}
			return last
		}
		if attempt >= o.Config.MatchRetry {
			last.Ack = AckOK | AckMismatch
			return last
		}
	}
}

// TransferBlockResult is the outcome of a DAP_TransferBlock batch.
type TransferBlockResult struct {
	CountCompleted uint16
	LastAck        uint8
	ReadData       []uint32 // populated only for read blocks
}

// TransferBlock executes count identical-request transactions against the
// engine: a run of posted AP reads drained by a trailing RDBUFF for reads,
// or a straight run of writes.
func (o *Orchestrator) TransferBlock(nibble uint8, writeData []uint32, count uint16, abort *atomic.Bool) TransferBlockResult {
	rnw := nibble&FlagRnW != 0
	apnDP := nibble&FlagAPnDP != 0

	if !rnw {
		return o.transferBlockWrite(nibble, writeData, count, abort)
	}
	return o.transferBlockRead(nibble, apnDP, count, abort)
}

func (o *Orchestrator) transferBlockWrite(nibble uint8, data []uint32, count uint16, abort *atomic.Bool) TransferBlockResult {
	var res TransferBlockResult
	for i := uint16(0); i < count; i++ {
		if abort != nil && abort.Load() {
			return res
		}
		ack, _, _ := o.Engine.Write(nibble, data[i])
		res.LastAck = ack
		if ack != AckOK {
			return res
		}
		res.CountCompleted++
	}
	return res
}

func (o *Orchestrator) transferBlockRead(nibble uint8, apnDP bool, count uint16, abort *atomic.Bool) TransferBlockResult {
	var res TransferBlockResult
	if count == 0 {
		return res
	}

	if !apnDP {
		// DP reads are never posted: each transaction returns its own data.
		for i := uint16(0); i < count; i++ {
			if abort != nil && abort.Load() {
				return res
			}
			ack, data, _, _ := o.Engine.Read(nibble)
			res.LastAck = ack
			if ack != AckOK {
				return res
			}
			res.ReadData = append(res.ReadData, data)
			res.CountCompleted++
		}
		return res
	}

	// AP reads pipeline: the first read only primes the target's internal
	// latch, so its data is discarded; each subsequent read returns the
	// prior transaction's value. A trailing RDBUFF drains the last one,
	// bringing the total data words back up to count.
	for i := uint16(0); i < count; i++ {
		if abort != nil && abort.Load() {
			return res
		}
		ack, data, _, _ := o.Engine.Read(nibble)
		res.LastAck = ack
		if ack != AckOK {
			return res
		}
		if i > 0 {
			res.ReadData = append(res.ReadData, data)
		}
		res.CountCompleted++
	}
	if abort != nil && abort.Load() {
		return res
	}
	ack, data, _, _ := o.Engine.Read(rdbuffNibble)
	res.LastAck = ack
	if ack == AckOK {
		res.ReadData = append(res.ReadData, data)
	}
	return res
}

// WriteABORT writes value to the DP ABORT register (A[3:2]=0b00, write, DP)
// and reports a simple OK/ERROR outcome; it does not honor abort_flag.
func (o *Orchestrator) WriteABORT(value uint32) uint8 {
	const abortNibble = 0 // APnDP=0, RnW=0 (write), A2=0, A3=0
	ack, _, _ := o.Engine.Write(abortNibble, value)
	if ack != AckOK {
		return AckError
	}
	return AckOK
}

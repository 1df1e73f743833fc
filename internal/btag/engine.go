package btag

import (
	"fmt"
	"os"
)

// Identity carries the per-worker, mostly-immutable-per-pass fields used
// to build a btag template (§4.2 create_template): writer identity,
// device geometry, and the target's own identifiers.
type Identity struct {
	DevID        uint32
	Inode        uint64
	ProcessID    uint32
	JobID        uint32
	ThreadNumber uint32
	DeviceSize   uint32
	StepOffset   uint64
	Serial       [16]byte
	Hostname     [16]byte
	IsFile       bool
	Reverse      bool
	Opaque       OpaqueCodec // nil unless an opaque extension is registered
}

// OpaqueCodec is the thin hook mentioned in §4.2 ("a thin hook lets the
// pattern engine register report_btag/update_btag/verify_btag callbacks");
// dt implements exactly one opaque extension type today, "write-order".
type OpaqueCodec interface {
	Type() uint8
	Encode(recordNumber uint32) []byte
	Verify(expected, received []byte) bool
}

// CreateTemplate initializes the immutable-per-pass fields of a btag
// (§4.2 create_template): identity, device geometry, and the write_start
// epoch marking this pass's beginning.
func CreateTemplate(id Identity, patternType uint8, patternSeed uint32, generation uint32, writeStart uint32) Tag {
	t := Tag{
		Signature:    signature(),
		Version:      version(),
		PatternType:  patternType,
		DevID:        id.DevID,
		Inode:        id.Inode,
		Serial:       id.Serial,
		Hostname:     id.Hostname,
		WriteStart:   writeStart,
		Pattern:      patternSeed,
		Generation:   generation,
		ProcessID:    id.ProcessID,
		JobID:        id.JobID,
		ThreadNumber: id.ThreadNumber,
		DeviceSize:   id.DeviceSize,
		StepOffset:   id.StepOffset,
	}
	if id.IsFile {
		t.Flags |= FlagFile
	}
	if id.Reverse {
		t.Flags |= FlagReverse
	}
	if id.Opaque != nil {
		t.Flags |= FlagOpaque
		t.OpaqueType = id.Opaque.Type()
	}
	return t
}

// UpdateForRecord refreshes the per-block fields of tmpl before it is
// written, in place, per §4.2 update_for_record. lbaOrOffset is the disk
// LBA or file byte offset of this particular block; recordIndex is the
// byte index of this block inside the write request; recordSize is the
// bytes remaining in the record from this block onward; recordNumber is
// the 1-based record number.
func UpdateForRecord(tmpl *Tag, lbaOrOffset uint64, recordIndex, recordSize, recordNumber uint32, writeSecs, writeUsecs uint32, random bool) {
	tmpl.LBAOrOffset = lbaOrOffset
	tmpl.RecordIndex = recordIndex
	tmpl.RecordSize = recordSize
	tmpl.RecordNumber = recordNumber
	tmpl.WriteSecs = writeSecs
	tmpl.WriteUsecs = writeUsecs
	if random {
		tmpl.Flags |= FlagRandom
	} else {
		tmpl.Flags &^= FlagRandom
	}
	if tmpl.OpaqueType != 0 {
		tmpl.OpaqueSize = uint16(len(tmpl.OpaqueData))
	}
}

// StampBuffer stamps every deviceSize-aligned sub-block of buf with tmpl
// (refreshed per sub-block via UpdateForRecord) and recomputes CRC-32 over
// each sub-block, per §4.2 stamp_buffer. recordNumber is the record number
// in effect for the whole request; startLBA is the LBA/offset of buf[0].
func StampBuffer(tmpl Tag, buf []byte, deviceSize int, startLBA uint64, recordNumber uint32, writeSecs, writeUsecs uint32, random bool, opaque OpaqueCodec) error {
	if deviceSize <= 0 || deviceSize > len(buf) {
		return fmt.Errorf("btag: invalid device size %d for buffer of %d bytes", deviceSize, len(buf))
	}
	if deviceSize < Size {
		return fmt.Errorf("btag: device size %d smaller than btag size %d", deviceSize, Size)
	}

	for off := 0; off+deviceSize <= len(buf); off += deviceSize {
		sub := buf[off : off+deviceSize]

		var lba uint64
		if tmpl.Flags&FlagFile != 0 {
			lba = startLBA + uint64(off)
		} else {
			lba = startLBA + uint64(off/deviceSize)
		}

		recordIndex := uint32(off)
		recordSize := uint32(len(buf) - off)
		UpdateForRecord(&tmpl, lba, recordIndex, recordSize, recordNumber, writeSecs, writeUsecs, random)
		if opaque != nil {
			tmpl.OpaqueData = opaque.Encode(recordNumber)
			tmpl.OpaqueSize = uint16(len(tmpl.OpaqueData))
		}
		Encode(&tmpl, sub)
		crc := ComputeCRC(sub)
		Encode(&tmpl, sub) // re-encode header (CRC left zero)
		putCRC(sub, crc)
	}
	return nil
}

func putCRC(block []byte, crc uint32) {
	block[offCRC32] = byte(crc)
	block[offCRC32+1] = byte(crc >> 8)
	block[offCRC32+2] = byte(crc >> 16)
	block[offCRC32+3] = byte(crc >> 24)
}

// VerifyResult is the outcome of a single sub-block verify.
type VerifyResult struct {
	OK bool
	// MismatchOffset is the lowest byte offset (within the sub-block)
	// where expected and received disagree, valid only when !OK. Per
	// §4.2 tie-break rule, when multiple fields disagree the lowest
	// byte offset wins.
	MismatchOffset int
	CRCFailed      bool
	FieldsFailed   []string
}

// VerifyBlock compares a received sub-block's btag against the expected
// template, masked by mask, then always checks CRC by recomputing it over
// the received block with the crc32 field zeroed (§4.2: "CRC is always
// checked by recomputing over the received block with crc field zeroed").
func VerifyBlock(expected Tag, received []byte, mask VerifyMask) VerifyResult {
	got := Decode(received)
	res := VerifyResult{OK: true, MismatchOffset: -1}

	check := func(bit VerifyMask, name string, off int, eq bool) {
		if mask&bit == 0 {
			return
		}
		if !eq {
			res.OK = false
			res.FieldsFailed = append(res.FieldsFailed, name)
			if res.MismatchOffset == -1 || off < res.MismatchOffset {
				res.MismatchOffset = off
			}
		}
	}

	check(VSignature, "signature", offSignature, got.Signature == expected.Signature)
	check(VVersion, "version", offVersion, got.Version == expected.Version)
	check(VPatternType, "pattern_type", offPatternType, got.PatternType == expected.PatternType)
	check(VFlags, "flags", offFlags, got.Flags == expected.Flags)
	check(VLBAOrOffset, "lba_or_offset", offLBAOrOffset, got.LBAOrOffset == expected.LBAOrOffset)
	check(VDevID, "devid", offDevID, got.DevID == expected.DevID)
	check(VInode, "inode", offInode, got.Inode == expected.Inode)
	check(VSerial, "serial", offSerial, got.Serial == expected.Serial)
	check(VHostname, "hostname", offHostname, got.Hostname == expected.Hostname)
	check(VWriteStart, "write_start", offWriteStart, got.WriteStart == expected.WriteStart)
	check(VWriteSecs, "write_secs", offWriteSecs, got.WriteSecs == expected.WriteSecs)
	check(VPattern, "pattern", offPattern, got.Pattern == expected.Pattern)
	check(VGeneration, "generation", offGeneration, got.Generation == expected.Generation)
	check(VProcessID, "process_id", offProcessID, got.ProcessID == expected.ProcessID)
	check(VJobID, "job_id", offJobID, got.JobID == expected.JobID)
	check(VThreadNumber, "thread_number", offThreadNumber, got.ThreadNumber == expected.ThreadNumber)
	check(VDeviceSize, "device_size", offDeviceSize, got.DeviceSize == expected.DeviceSize)
	check(VRecordIndex, "record_index", offRecordIndex, got.RecordIndex == expected.RecordIndex)
	check(VRecordSize, "record_size", offRecordSize, got.RecordSize == expected.RecordSize)
	check(VRecordNumber, "record_number", offRecordNumber, got.RecordNumber == expected.RecordNumber)
	check(VStepOffset, "step_offset", offStepOffset, got.StepOffset == expected.StepOffset)
	check(VOpaqueType, "opaque_type", offOpaqueType, got.OpaqueType == expected.OpaqueType)
	check(VOpaqueSize, "opaque_size", offOpaqueSize, got.OpaqueSize == expected.OpaqueSize)

	// CRC is always checked, regardless of mask.
	scratch := append([]byte(nil), received...)
	putCRC(scratch, 0)
	wantCRC := ComputeCRC(scratch)
	if wantCRC != got.CRC32 {
		res.OK = false
		res.CRCFailed = true
		if res.MismatchOffset == -1 || offCRC32 < res.MismatchOffset {
			res.MismatchOffset = offCRC32
		}
	}

	return res
}

// VerifyBuffer runs the fast-path per-sub-block CRC-only check of §4.2
// verify_buffer across an entire record buffer, returning the first
// failing sub-block's decoded Tag if any sub-block's CRC is wrong.
func VerifyBuffer(buf []byte, deviceSize int) (ok bool, failing *Tag) {
	if deviceSize <= 0 || deviceSize > len(buf) {
		return false, nil
	}
	for off := 0; off+deviceSize <= len(buf); off += deviceSize {
		sub := buf[off : off+deviceSize]
		got := Decode(sub)
		scratch := append([]byte(nil), sub...)
		putCRC(scratch, 0)
		if ComputeCRC(scratch) != got.CRC32 {
			t := got
			return false, &t
		}
	}
	return true, nil
}

func signature() uint32 { return sigConst }
func version() uint8    { return verConst }

// sigConst/verConst are package-level vars (not const) holding the btag
// signature and format version; their values equal dtconst.BtagSignature
// and dtconst.BtagVersion.
var (
	sigConst uint32 = 0x54414754
	verConst uint8  = 1
)

// NewDefaultIdentity fills in the hostname and pid for the local host,
// leaving device-specific fields for the caller.
func NewDefaultIdentity() Identity {
	var id Identity
	id.ProcessID = uint32(os.Getpid())
	if h, err := os.Hostname(); err == nil {
		copy(id.Hostname[:], h)
	}
	return id
}

package config

import (
	"fmt"
	"strings"

	"github.com/robintmiller/dt/internal/btag"
)

// btagVerifyNames maps the §6 btag_verify expression names to their mask
// bits. "lba" and "offset" both alias the single LBA-or-offset field, and
// "qv" has no real verification effect, it exists only so scripts can
// express the "quick verify" no-op cleanly.
var btagVerifyNames = map[string]btag.VerifyMask{
	"all":              btag.VAll,
	"lba":              btag.VLBAOrOffset,
	"offset":           btag.VLBAOrOffset,
	"devid":            btag.VDevID,
	"inode":            btag.VInode,
	"serial":           btag.VSerial,
	"hostname":         btag.VHostname,
	"signature":        btag.VSignature,
	"version":          btag.VVersion,
	"pattern_type":     btag.VPatternType,
	"flags":            btag.VFlags,
	"write_start":      btag.VWriteStart,
	"write_secs":       btag.VWriteSecs,
	"write_usecs":      btag.VWriteSecs,
	"pattern":          btag.VPattern,
	"generation":       btag.VGeneration,
	"process_id":       btag.VProcessID,
	"job_id":           btag.VJobID,
	"thread_number":    btag.VThreadNumber,
	"device_size":      btag.VDeviceSize,
	"record_index":     btag.VRecordIndex,
	"record_size":      btag.VRecordSize,
	"record_number":    btag.VRecordNumber,
	"step_offset":      btag.VStepOffset,
	"opaque_data_type": btag.VOpaqueType,
	"opaque_data_size": btag.VOpaqueSize,
	"opaque_data":      btag.VOpaqueData,
	"crc32":            btag.VCRC32,
	"qv":               0,
}

// ParseBtagVerify parses a comma-separated btag_verify expression (§6):
// names add bits, a leading '~' clears the named bit. The mask starts
// from btag.VAll so "btag_verify=~lba" means "verify everything except
// LBA," matching the spec's clearing semantics.
func ParseBtagVerify(expr string) (btag.VerifyMask, error) {
	mask := btag.VAll
	if strings.TrimSpace(expr) == "" {
		return mask, nil
	}
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		clear := strings.HasPrefix(tok, "~")
		name := strings.TrimPrefix(tok, "~")
		bit, ok := btagVerifyNames[name]
		if !ok {
			return 0, fmt.Errorf("config: unknown btag_verify field %q", name)
		}
		if clear {
			mask &^= bit
		} else if name == "all" {
			mask = btag.VAll
		} else {
			mask |= bit
		}
	}
	return mask, nil
}

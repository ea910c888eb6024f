package recorder

import (
	"fmt"
	"strconv"
)

const (
	programRec     = "rec"
	programSox     = "sox"
	programArecord = "arecord"
)

type invocation struct {
	args []string
	env  []string
}

func buildInvocation(program string, sampleRateHz int, audioType, device string, endOnSilence bool, silenceSec, thresholdPercent float64) (invocation, error) {
	rate := strconv.Itoa(sampleRateHz)
	var inv invocation
	switch program {
	case programRec:
		inv.args = []string{"-q", "-r", rate, "-c", "1", "-e", "signed-integer", "-b", "16", "-t", audioType, "-"}
	case programSox:
		inv.args = []string{"--default-device", "--no-show-progress", "--rate", rate, "--channels", "1", "--encoding", "signed-integer", "--bits", "16", "--type", audioType, "-"}
	case programArecord:
		inv.args = []string{"-q", "-r", rate, "-c", "1", "-t", audioType, "-f", "S16_LE", "-"}
		if device != "" {
			inv.args = append([]string{"-D", device}, inv.args...)
		}
		return inv, nil
	default:
		return invocation{}, fmt.Errorf("unsupported recording program %q", program)
	}

	// rec and sox pick the input device from AUDIODEV.
	if device != "" {
		inv.env = append(inv.env, "AUDIODEV="+device)
	}
	if endOnSilence {
		threshold := strconv.FormatFloat(thresholdPercent, 'f', -1, 64) + "%"
		inv.args = append(inv.args, "silence", "1", "0.1", threshold, "1", strconv.FormatFloat(silenceSec, 'f', 1, 64), threshold)
	}
	return inv, nil
}

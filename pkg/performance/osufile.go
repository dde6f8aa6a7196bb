package performance

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rankwatch/rankwatch/pkg/model"
)

var ErrMissingDifficulty = errors.New("no [Difficulty] section")

// ParseAttributes reads the base difficulty settings of a .osu file. The BPM
// comes from the first uninherited timing point. Files older than format v8
// have no approach rate, in which case it equals the overall difficulty.
func ParseAttributes(b []byte) (model.Attributes, error) {
	var (
		attrs          model.Attributes
		section        string
		haveDifficulty bool
		haveAR         bool
	)
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}
		switch section {
		case "Difficulty":
			key, val, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return attrs, fmt.Errorf("difficulty %s: %w", key, err)
			}
			haveDifficulty = true
			switch strings.TrimSpace(key) {
			case "HPDrainRate":
				attrs.HP = v
			case "CircleSize":
				attrs.CS = v
			case "OverallDifficulty":
				attrs.OD = v
			case "ApproachRate":
				attrs.AR, haveAR = v, true
			}
		case "TimingPoints":
			if attrs.BPM > 0 {
				continue
			}
			fields := strings.Split(line, ",")
			if len(fields) < 2 {
				continue
			}
			beatLength, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
			if err != nil || beatLength <= 0 {
				continue
			}
			attrs.BPM = 60000 / beatLength
		}
	}
	if err := sc.Err(); err != nil {
		return attrs, err
	}
	if !haveDifficulty {
		return attrs, ErrMissingDifficulty
	}
	if !haveAR {
		attrs.AR = attrs.OD
	}
	return attrs, nil
}

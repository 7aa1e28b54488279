package device

import (
	"fmt"
	"math"
	"strings"
	"time"

	"pdtbutler/util"
)

// counter ticks to MHz
const freqScale = 119.20928 / 1000000

// FreqSettle is how long the counter runs after a channel switch.
var FreqSettle = 2 * time.Second

var freqNames = []string{"PLL", "CDR", "BP"}

// MeasureFrequencies reads the frequency counter of every channel the
// board has. Channels whose count is not valid read as NaN.
func (my *Device) MeasureFrequencies() ([]float64, error) {
	n := my.Identity.Config().FreqChannels
	f, err := my.Root.GetNode(nodeIO + ".freq")
	if err != nil {
		return nil, err
	}
	sel, err := f.GetNode("ctrl.chan_sel")
	if err != nil {
		return nil, err
	}
	crap, err := f.GetNode("ctrl.en_crap_mode")
	if err != nil {
		return nil, err
	}
	count, err := f.GetNode("freq.count")
	if err != nil {
		return nil, err
	}
	valid, err := f.GetNode("freq.valid")
	if err != nil {
		return nil, err
	}

	freqs := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if err := sel.Write(uint32(i)); err != nil {
			return nil, err
		}
		if err := crap.Write(0); err != nil {
			return nil, err
		}
		if err := my.Client.Dispatch(); err != nil {
			return nil, err
		}
		sleep(FreqSettle)

		c, err := count.Read()
		if err != nil {
			return nil, err
		}
		v, err := valid.Read()
		if err != nil {
			return nil, err
		}
		if err := my.Client.Dispatch(); err != nil {
			return nil, err
		}
		if v.Value() == 0 {
			freqs = append(freqs, math.NaN())
			continue
		}
		freqs = append(freqs, float64(c.Value())*freqScale)
	}
	return freqs, nil
}

func FrequencyReport(freqs []float64) string {
	var sb strings.Builder
	sb.WriteString(util.Style("PLL Clock frequency measurement:", util.Cyan) + "\n")
	for i, f := range freqs {
		name := fmt.Sprintf("ch%d", i)
		if i < len(freqNames) {
			name = freqNames[i]
		}
		fmt.Fprintf(&sb, "Freq %s: %v\n", name, f)
	}
	return sb.String()
}

package sync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/pkg/utils"
)

const progressTemplate = `{{string . "label"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`

// transferProgress tracks one upload or download pass of a project.
type transferProgress struct {
	label      string
	totalFiles int
	totalSize  int64
	doneFiles  int
	doneSize   int64
	skipped    int
	startTime  time.Time
	bar        *pb.ProgressBar
}

func newTransferProgress(label string, totalFiles int, totalSize int64, visible bool) *transferProgress {
	bar := pb.New64(totalSize)
	bar.Set(pb.Bytes, true)
	bar.SetTemplate(progressTemplate)
	bar.Set("label", label)
	if !visible {
		bar.SetWriter(io.Discard)
	}
	return &transferProgress{
		label:      label,
		totalFiles: totalFiles,
		totalSize:  totalSize,
		bar:        bar,
	}
}

func (tp *transferProgress) start() {
	tp.startTime = time.Now()
	tp.bar.Start()
}

func (tp *transferProgress) update(size int64) {
	tp.doneFiles++
	tp.doneSize += size
	tp.bar.Add64(size)
}

func (tp *transferProgress) skip() {
	tp.skipped++
}

func formatSpeed(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", utils.FormatSize(int64(bytesPerSecond)))
}

// finish stops the bar and logs a summary of the pass.
func (tp *transferProgress) finish(ctx context.Context, log logging.Logger) {
	tp.bar.Finish()
	if tp.doneFiles == 0 && tp.skipped == 0 {
		return
	}
	elapsed := time.Since(tp.startTime)
	var speed float64
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(tp.doneSize) / secs
	}
	log.Info(ctx, tp.label+" finished",
		"files", fmt.Sprintf("%d/%d", tp.doneFiles, tp.totalFiles),
		"size", utils.FormatSize(tp.doneSize),
		"skipped", tp.skipped,
		"speed", formatSpeed(speed),
		"took", utils.FormatDuration(elapsed),
	)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/platform/paths"
	"github.com/ManuGH/nexa/internal/subtitles"
	"github.com/ManuGH/nexa/internal/transcode"
)

// segmentWait bounds how long a segment request blocks for the encoder to
// catch up before the client should retry.
const segmentWait = 20 * time.Second

func (s *Server) partFromPath(r *http.Request) (*media.MediaPart, error) {
	id, err := pathInt64(r, "id")
	if err != nil {
		return nil, err
	}
	part, err := s.store.GetMediaPart(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if part.MissingSince != nil {
		return nil, errdef.NotFound("media part %d is missing on disk", id)
	}
	return part, nil
}

// handlePartFile serves the source file untouched. http.ServeContent handles
// Range, which direct-play clients lean on heavily.
func (s *Server) handlePartFile(w http.ResponseWriter, r *http.Request) {
	part, err := s.partFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := os.Open(part.Path)
	if err != nil {
		writeError(w, r, errdef.Wrap(errdef.KindNotFound, err, "open media part"))
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.ServeContent(w, r, filepath.Base(part.Path), fi.ModTime(), f)
}

// handlePartRemux repackages the source into fragmented mp4 without
// re-encoding. The output is unseekable; clients that need seeking use the
// DASH manifest instead.
func (s *Server) handlePartRemux(w http.ResponseWriter, r *http.Request) {
	part, err := s.partFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	args := []string{
		"-i", part.Path,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c", "copy",
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4",
		"pipe:1",
	}
	cmd := exec.CommandContext(r.Context(), s.cfg.Transcode.FFmpegPath, args...)
	cmd.Stdout = w

	w.Header().Set("Content-Type", "video/mp4")
	if err := cmd.Run(); err != nil && r.Context().Err() == nil {
		// Headers are gone; all we can do is log and drop the connection.
		s.log.Error().Err(err).Int64("part", part.ID).Msg("remux failed mid-stream")
	}
}

// handlePartManifest lazily starts (or reuses) the DASH transcode for a
// playback session and serves its manifest once ffmpeg has written it.
func (s *Server) handlePartManifest(w http.ResponseWriter, r *http.Request) {
	part, err := s.partFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.store.GetSession(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if session.Plan == nil || len(session.Plan.Ladder) == 0 {
		writeError(w, r, errdef.New(errdef.KindPlaybackUnsupported, "session %s has no transcode plan", session.UUID))
		return
	}
	offsetMs := queryInt64(r, "offsetMs", 0)

	job, err := s.sessionJob(r, session, part, offsetMs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	manifest := filepath.Join(job.OutputPath, "manifest.mpd")
	if err := waitForFile(r, manifest); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/dash+xml")
	http.ServeFile(w, r, manifest)
}

// sessionJob finds a live job for this part and offset or starts a new one.
func (s *Server) sessionJob(r *http.Request, session *media.PlaybackSession, part *media.MediaPart, offsetMs int64) (*media.TranscodeJob, error) {
	jobs, err := s.store.ListSessionJobs(r.Context(), session.ID)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		j := &jobs[i]
		if !j.State.Terminal() && j.MediaPartID == part.ID && j.StartTimeMs == offsetMs {
			return j, nil
		}
	}

	outputPath := filepath.Join(s.cfg.CacheDir, "transcodes", uuid.NewString())
	job, err := s.transcodes.Create(r.Context(), session.ID, part.ID, media.ProtocolDASH, outputPath, transcode.Options{
		StartTimeMs: offsetMs,
	})
	if err != nil {
		return nil, err
	}
	args := transcode.BuildDASHArgs(part.Path, outputPath, session.Plan.Ladder, transcode.Options{
		SegmentLengthS: job.SegmentLengthS,
		StartTimeMs:    offsetMs,
	}, s.cfg.Transcode.HWAccel)
	if err := s.transcodes.Start(r.Context(), job.UUID, args); err != nil {
		return nil, err
	}
	return job, nil
}

var segmentIndexRe = regexp.MustCompile(`-(\d+)\.[A-Za-z0-9]+$`)

// handleTranscodeSegment serves one DASH segment, blocking briefly when the
// encoder has not written it yet. Every hit doubles as a liveness ping.
func (s *Server) handleTranscodeSegment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeInvalid(w, r, "invalid segment name")
		return
	}
	job, err := s.store.GetTranscodeJob(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.transcodes.Ping(r.Context(), job.UUID); err != nil && !errdef.IsKind(err, errdef.KindConflict) {
		s.log.Debug().Err(err).Str("job", job.UUID).Msg("segment ping failed")
	}

	path, err := paths.Confine(job.OutputPath, filepath.Join(job.OutputPath, name))
	if err != nil {
		writeInvalid(w, r, "invalid segment name")
		return
	}
	// Media segments carry an index; wait for the encoder to reach it.
	if m := segmentIndexRe.FindStringSubmatch(name); m != nil && strings.HasPrefix(name, job.SegmentPrefix) {
		want, _ := strconv.Atoi(m[1])
		if err := waitForSegment(r, job.OutputPath, want); err != nil {
			writeError(w, r, err)
			return
		}
	} else if err := waitForFile(r, path); err != nil {
		writeError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

func waitForFile(r *http.Request, path string) error {
	deadline := time.Now().Add(segmentWait)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errdef.New(errdef.KindUnavailable, "timed out waiting for %s", filepath.Base(path))
		}
		select {
		case <-r.Context().Done():
			return r.Context().Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func waitForSegment(r *http.Request, outputPath string, want int) error {
	deadline := time.Now().Add(segmentWait)
	for {
		have, err := transcode.GetCurrentTranscodingIndex(outputPath)
		if err != nil {
			return err
		}
		// The encoder may still be mid-write on its newest segment; require
		// it to have moved past the one we serve.
		if have > want {
			return nil
		}
		if time.Now().After(deadline) {
			return errdef.New(errdef.KindUnavailable, "segment %d not transcoded yet", want)
		}
		select {
		case <-r.Context().Done():
			return r.Context().Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// handlePartSubtitles extracts one embedded subtitle stream, converted and
// optionally windowed to the playback position.
func (s *Server) handlePartSubtitles(w http.ResponseWriter, r *http.Request) {
	part, err := s.partFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeInvalid(w, r, "subtitle index must be a non-negative integer")
		return
	}
	format := subtitles.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = subtitles.FormatVTT
	}

	const ticksPerMs = 10_000
	startTicks := queryInt64(r, "startMs", 0) * ticksPerMs
	endTicks := queryInt64(r, "endMs", 0) * ticksPerMs

	out, err := s.subs.ExtractConverted(r.Context(), part.Path, index, format, startTicks, endTicks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", subtitles.GetMimeType(format))
	if _, err := io.Copy(w, out); err != nil && r.Context().Err() == nil {
		s.log.Debug().Err(err).Int64("part", part.ID).Msg("subtitle stream aborted")
	}
}

// handleTrickplay serves trickplay artifacts: the whole BIF index by default,
// or one JPEG when thumb= is present.
func (s *Server) handleTrickplay(w http.ResponseWriter, r *http.Request) {
	itemUUID := chi.URLParam(r, "uuid")
	partIndex, err := strconv.Atoi(chi.URLParam(r, "part"))
	if err != nil || partIndex < 0 {
		writeInvalid(w, r, "part index must be a non-negative integer")
		return
	}

	if thumb := r.URL.Query().Get("thumb"); thumb != "" {
		idx, err := strconv.Atoi(thumb)
		if err != nil || idx < 0 {
			writeInvalid(w, r, "thumb index must be a non-negative integer")
			return
		}
		buf, err := s.bif.ReadThumb(itemUUID, partIndex, idx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
		_, _ = w.Write(buf)
		return
	}

	meta, err := s.bif.ReadMetadata(itemUUID, partIndex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

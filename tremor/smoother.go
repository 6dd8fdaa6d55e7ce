package tremor

// EpisodeState is the debouncing state carried between samples.
type EpisodeState struct {
	InEpisode                   bool    `json:"inEpisode"`
	ConsecutiveTremorSamples    int     `json:"consecutiveTremorSamples"`
	ConsecutiveNonTremorSamples int     `json:"consecutiveNonTremorSamples"`
	RunStartNs                  int64   `json:"runStartNs"`
	EpisodeStartNs              int64   `json:"episodeStartNs"`
	EpisodeSampleCount          int     `json:"episodeSampleCount"`
	LastConfidence              float64 `json:"lastConfidence"`
}

// SmoothedDetection is the smoother's verdict for one sample.
type SmoothedDetection struct {
	IsTremor               bool
	Confidence             float64
	InEpisode              bool
	EpisodeStarted         bool
	EpisodeEnded           bool
	Bridged                bool
	EpisodeDurationSeconds float64
}

// SmoothEpisode advances the episode state machine by one sample. It is a
// pure function: the returned state replaces the one passed in.
func SmoothEpisode(cfg DetectionConfig, state EpisodeState, rawIsTremor bool, rawConfidence float64, timestampNs int64) (EpisodeState, SmoothedDetection) {
	minRun := cfg.MinEpisodeDurationSamples
	out := SmoothedDetection{Confidence: clamp01(rawConfidence)}

	if rawIsTremor {
		if state.ConsecutiveTremorSamples == 0 {
			state.RunStartNs = timestampNs
		}
		state.ConsecutiveTremorSamples++
		state.ConsecutiveNonTremorSamples = 0

		if !state.InEpisode && state.ConsecutiveTremorSamples >= minRun {
			state.InEpisode = true
			state.EpisodeStartNs = state.RunStartNs
			state.EpisodeSampleCount = state.ConsecutiveTremorSamples - 1
			out.EpisodeStarted = true
		}
		if state.InEpisode {
			state.EpisodeSampleCount++
			boost := cfg.NewEpisodeConfidenceBoost
			if state.EpisodeSampleCount >= 2*minRun {
				boost = cfg.LongEpisodeConfidenceBoost
			}
			out.IsTremor = true
			out.Confidence = clamp01(rawConfidence * boost)
			state.LastConfidence = out.Confidence
		}
	} else {
		state.ConsecutiveNonTremorSamples++
		state.ConsecutiveTremorSamples = 0

		if state.InEpisode {
			if state.ConsecutiveNonTremorSamples > cfg.MaxGapSamples {
				out.EpisodeEnded = true
				out.EpisodeDurationSeconds = nsToSeconds(timestampNs - state.EpisodeStartNs)
				state = EpisodeState{}
			} else {
				state.EpisodeSampleCount++
				out.IsTremor = true
				out.Bridged = true
				out.Confidence = state.LastConfidence
			}
		}
	}

	out.InEpisode = state.InEpisode
	if state.InEpisode {
		out.EpisodeDurationSeconds = nsToSeconds(timestampNs - state.EpisodeStartNs)
	}
	return state, out
}

// EpisodeSmoother holds the state for a single sample stream. It is not safe
// for concurrent use.
type EpisodeSmoother struct {
	state EpisodeState
}

// Step runs one sample through the state machine.
func (s *EpisodeSmoother) Step(cfg DetectionConfig, rawIsTremor bool, rawConfidence float64, timestampNs int64) SmoothedDetection {
	next, out := SmoothEpisode(cfg, s.state, rawIsTremor, rawConfidence, timestampNs)
	s.state = next
	return out
}

// State returns a copy of the current state.
func (s *EpisodeSmoother) State() EpisodeState {
	return s.state
}

// Reset returns the smoother to Idle.
func (s *EpisodeSmoother) Reset() {
	s.state = EpisodeState{}
}

func nsToSeconds(ns int64) float64 {
	if ns <= 0 {
		return 0
	}
	return float64(ns) / 1e9
}

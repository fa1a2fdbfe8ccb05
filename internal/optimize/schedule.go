package optimize

// LinearSchedule ramps the learning rate linearly from zero over the warmup
// steps, then decays it linearly to zero at the final step.
type LinearSchedule struct {
	opt    *AdamW
	baseLR float64
	warmup int
	total  int
	step   int
}

func NewLinearSchedule(opt *AdamW, warmupSteps, totalSteps int) *LinearSchedule {
	return &LinearSchedule{
		opt:    opt,
		baseLR: opt.LR(),
		warmup: warmupSteps,
		total:  totalSteps,
	}
}

// Step advances the schedule by one optimizer step and updates the learning
// rate on the attached optimizer.
func (s *LinearSchedule) Step() {
	s.step++
	s.opt.SetLR(s.lrAt(s.step))
}

func (s *LinearSchedule) lrAt(step int) float64 {
	if s.warmup > 0 && step < s.warmup {
		return s.baseLR * float64(step) / float64(s.warmup)
	}
	if step >= s.total {
		return 0
	}
	remain := float64(s.total-step) / float64(s.total-s.warmup)
	return s.baseLR * remain
}

// ScheduleState is the serializable scheduler position.
type ScheduleState struct {
	Step int
}

func (s *LinearSchedule) StateDict() ScheduleState {
	return ScheduleState{Step: s.step}
}

func (s *LinearSchedule) LoadStateDict(st ScheduleState) {
	s.step = st.Step
	s.opt.SetLR(s.lrAt(s.step))
}

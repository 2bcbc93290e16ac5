package scene

import (
	"slices"
	"time"
)

type interpolation struct {
	attr     *Attribute
	from, to any
	elapsed  time.Duration
	length   time.Duration
}

// StartAttributeInterpolation blends a from its current value to to over
// length. Types without Lerp, or a zero length, apply to at once with
// LocalOnly and report false. A running interpolation of a is replaced and
// continues from the value reached so far.
func (s *Scene) StartAttributeInterpolation(a *Attribute, to any, length time.Duration) bool {
	if a.owner == nil || !a.typ.accepts(to) {
		return false
	}
	if a.typ.Lerp == nil || length <= 0 {
		s.EndAttributeInterpolation(a)
		a.apply(to, LocalOnly, LocalOrigin)
		return false
	}

	ip := &interpolation{attr: a, from: a.value, to: to, length: length}
	for i, cur := range s.interpolations {
		if cur.attr == a {
			s.interpolations[i] = ip
			return true
		}
	}
	s.interpolations = append(s.interpolations, ip)
	return true
}

// EndAttributeInterpolation stops a running interpolation of a, leaving the
// value where it is. It reports whether one was running.
func (s *Scene) EndAttributeInterpolation(a *Attribute) bool {
	for i, cur := range s.interpolations {
		if cur.attr == a {
			s.interpolations = append(s.interpolations[:i], s.interpolations[i+1:]...)
			return true
		}
	}
	return false
}

// IsInterpolating reports whether UpdateInterpolations is applying values
// right now.
func (s *Scene) IsInterpolating() bool {
	return s.interpolating
}

func (s *Scene) InterpolationCount() int {
	return len(s.interpolations)
}

// UpdateInterpolations advances all running interpolations by dt.
func (s *Scene) UpdateInterpolations(dt time.Duration) {
	if len(s.interpolations) == 0 {
		return
	}

	s.interpolating = true
	defer func() { s.interpolating = false }()

	current := s.interpolations
	s.interpolations = nil

	var running []*interpolation
	for _, ip := range current {
		if ip.attr.owner == nil {
			continue
		}
		ip.elapsed += dt

		t := float32(1)
		if ip.elapsed < ip.length {
			t = float32(ip.elapsed) / float32(ip.length)
		}

		if t >= 1 {
			ip.attr.apply(ip.to, LocalOnly, LocalOrigin)
			continue
		}
		ip.attr.apply(ip.attr.typ.Lerp(ip.from, ip.to, t), LocalOnly, LocalOrigin)
		running = append(running, ip)
	}

	// Interpolations started by observers during this step win.
	for _, ip := range s.interpolations {
		running = slices.DeleteFunc(running, func(r *interpolation) bool {
			return r.attr == ip.attr
		})
	}
	s.interpolations = append(running, s.interpolations...)
}

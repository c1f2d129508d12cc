package aclgen

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Expiry int

const (
	NotExpiring Expiry = iota
	Expiring
	Expired
)

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckExpiration classifies an expiration date against now. Dates are
// compared by calendar day: a term expiring today is still rendered.
func CheckExpiration(expiration, now time.Time, windowWeeks int) Expiry {
	if expiration.IsZero() {
		return NotExpiring
	}
	exp, today := day(expiration), day(now)
	if exp.Before(today) {
		return Expired
	}
	if !exp.After(today.AddDate(0, 0, 7*windowWeeks)) {
		return Expiring
	}
	return NotExpiring
}

// ReportExpiration logs the expiration state of a term and reports whether
// the term should be rendered.
func ReportExpiration(log logrus.FieldLogger, term, filter string, expiration, now time.Time, windowWeeks int) bool {
	switch CheckExpiration(expiration, now, windowWeeks) {
	case Expired:
		log.WithFields(logrus.Fields{"filter": filter, "term": term}).
			Warnf("Term %s in policy %s is expired and will not be rendered.", term, filter)
		return false
	case Expiring:
		log.WithFields(logrus.Fields{"filter": filter, "term": term}).
			Infof("Term %s in policy %s expires in less than %d weeks.", term, filter, windowWeeks)
	}
	return true
}

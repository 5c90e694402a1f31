package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons for hms_bookings_rejected_total.
const (
	ReasonNotAvailableOnDay = "not_available_on_day"
	ReasonOutsideSchedule   = "outside_schedule"
	ReasonSlotFull          = "slot_full"
)

// Collector owns every metric the server exports. Methods are safe on a nil
// receiver so services can run without metrics in tests.
type Collector struct {
	gatherer prometheus.Gatherer

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	appointmentsBooked prometheus.Counter
	bookingsRejected   *prometheus.CounterVec
	tokensIssued       *prometheus.CounterVec
	sequenceConflicts  *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		gatherer: gatherer,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hms_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		appointmentsBooked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_appointments_booked_total",
			Help: "Appointments successfully booked",
		}),
		bookingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_bookings_rejected_total",
			Help: "Booking attempts rejected by the availability check",
		}, []string{"reason"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_tokens_issued_total",
			Help: "Queue tokens issued",
		}, []string{"backend"}),
		sequenceConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_sequence_conflicts_total",
			Help: "Unique violations hit while allocating sequence numbers",
		}, []string{"scope"}),
	}
	reg.MustRegister(c.httpRequests, c.httpDuration, c.appointmentsBooked,
		c.bookingsRejected, c.tokensIssued, c.sequenceConflicts)
	return c
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) AppointmentBooked() {
	if c == nil {
		return
	}
	c.appointmentsBooked.Inc()
}

func (c *Collector) BookingRejected(reason string) {
	if c == nil {
		return
	}
	c.bookingsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) TokenIssued(backend string) {
	if c == nil {
		return
	}
	c.tokensIssued.WithLabelValues(backend).Inc()
}

func (c *Collector) SequenceConflict(scope string) {
	if c == nil {
		return
	}
	c.sequenceConflicts.WithLabelValues(scope).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Package motion provides an HTTP interface to motion controllers.
//
// A controller must be a Mover; the other interfaces in this package are
// detected on the concrete type and their routes added when present.
package motion

import "github.com/nasa-jpl/beamprof/generichttp"

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	Mover
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	w := HTTPMotionController{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPMove(c, rt)
	if stopper, ok := interface{}(c).(Stopper); ok {
		HTTPStop(stopper, rt)
	}
	if speeder, ok := interface{}(c).(Speeder); ok {
		HTTPSpeed(speeder, rt)
	}
	if ref, ok := interface{}(c).(Referencer); ok {
		HTTPHomed(ref, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}

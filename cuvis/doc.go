/*
Package cuvis exposes hyperspectral cameras in Go through the Cubert cuvis SDK.

The SDK is reached through the Native interface, which a cgo binding to
libcuvis implements one call per method.  Package sim provides an in-process
implementation used by the tests and the commands.

Every wrapper owns exactly one native handle.  Handles are released by Close,
once; a measurement ingested into a Worker is moved into it and the wrapper
becomes unusable.  Failures are reported as *SDKError carrying the native
library's last error message.

Three pieces run in the background:

	Async         an outstanding asynchronous call, polled or awaited
	StatePoller   edge-triggered hardware state notification
	Worker        a bounded processing pipeline with a result callback loop

Loops take a context or are stopped synchronously; none of them outlives its
owner's Close.
*/
package cuvis

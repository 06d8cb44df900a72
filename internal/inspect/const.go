package inspect

const kibanPkgPath = "github.com/mazrean/kiban"

// declarationKinds maps the kiban declaration functions to the kind they register with.
var declarationKinds = map[string]string{
	"Provide":   "service",
	"Service":   "service",
	"Handler":   "request-handler",
	"Endpoint":  "realtime-endpoint",
	"Component": "component",
	"Value":     "service",
	"Bind":      "service",
}

// kindConstants maps the exported Kind constants to their names.
var kindConstants = map[string]string{
	"KindService":          "service",
	"KindRequestHandler":   "request-handler",
	"KindRealtimeEndpoint": "realtime-endpoint",
	"KindModule":           "module",
	"KindComponent":        "component",
}

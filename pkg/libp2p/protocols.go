package libp2p

const (
	// Protocol ID for private session requests
	PrivateProtocol = "/swapbytes/private/1.0.0"

	// DHTPrefix isolates our DHT from the public IPFS one
	DHTPrefix = "/swapbytes"

	// RecordNamespace is the DHT key namespace for nickname and room records
	RecordNamespace = "swapbytes"

	// DefaultServiceName is the mDNS service tag
	DefaultServiceName = "swapbytes-chat"
)

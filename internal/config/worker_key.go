package config

type WorkerKeyStruct struct {
	PersistEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistEventsQueue: "persist_security_events_queue",
}

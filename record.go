package substrate

// Record is the dynamic, JSON-shaped payload most domain adapters exchange
// (message queues, columnar stores, HTTP ingestion) - the generalization of
// the teacher's machine.Data to a plain map the adapters package can import
// without pulling in the rest of the core engine's generic machinery.
type Record map[string]interface{}

// Package memory provides the tiered, decaying store of facts learned
// about a user.
//
// Memories live in durability tiers (short/medium/long/permanent) that fix
// their expiration horizon, decay in effective importance at read time,
// and are soft-deletable. All keys are partitioned by user id.
//
// Architecture:
//   - Store: document-oriented persistence (sqlite durable, mem fallback)
//   - Index: secondary semantic mirror (chromem embedded, pgvector production)
//   - Embedder: text-to-vector conversion (mock placeholder, onnx local model)
//   - Service: lifecycle orchestration: create, mutate, soft-delete/restore,
//     expiry sweep, per-user cap pruning, best-effort index mirroring
//   - Failover: durable store with in-process fallback behind a mode guard
//
// The primary store is the source of truth; index writes are best-effort
// and never fail a memory write.
package memory

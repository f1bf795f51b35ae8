// Package storage provides the worker-resident Quantum Store. Each shared
// array is cut into fixed-size blocks; a worker caches the blocks it was
// handed by the coordinator together with the mode epoch at which each copy
// was validated, so a mode switch stales every copy at once. Block buffers
// come from a Pool that grows instead of failing.
package storage

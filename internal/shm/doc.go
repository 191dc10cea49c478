/*
 *
 * Copyright 2025 ItJustWorksTM
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package shm implements the shared-memory channel protocol that fastipc
// endpoints exchange samples through: the channel page layout, the
// lock-free prepare/submit and acquire/release algorithms over the 64-slot
// sample bank, the memfd-backed segment lifecycle, and the local wire
// protocol spoken between clients and the tower.
//
// The wire format and page layout are little-endian and are only exchanged
// between processes on the same host; segment code is gated to
// linux/{amd64,arm64}.
package shm

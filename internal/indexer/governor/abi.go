package governor

// Hand-rolled ABI surface covering only what the indexer needs: the two
// vote events and three read-only getters common to OpenZeppelin
// Governor-derived contracts (Compound Governor Bravo, Arbitrum Core/
// Treasury, Optimism Governor). Kept inline as a JSON string rather than
// a per-DAO generated binding, following
// tanmayjoddar-CuraBlock-ETHGlobal/backend/services/event_listener.go's
// "minimal ABI, no external JSON dependency" pattern.
const governorABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "proposalId", "type": "uint256"},
      {"indexed": false, "name": "proposer",    "type": "address"},
      {"indexed": false, "name": "targets",     "type": "address[]"},
      {"indexed": false, "name": "values",      "type": "uint256[]"},
      {"indexed": false, "name": "signatures",  "type": "string[]"},
      {"indexed": false, "name": "calldatas",   "type": "bytes[]"},
      {"indexed": false, "name": "startBlock",  "type": "uint256"},
      {"indexed": false, "name": "endBlock",    "type": "uint256"},
      {"indexed": false, "name": "description", "type": "string"}
    ],
    "name": "ProposalCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "voter",      "type": "address"},
      {"indexed": false, "name": "proposalId", "type": "uint256"},
      {"indexed": false, "name": "support",    "type": "uint8"},
      {"indexed": false, "name": "weight",     "type": "uint256"},
      {"indexed": false, "name": "reason",     "type": "string"}
    ],
    "name": "VoteCast",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "voter",      "type": "address"},
      {"indexed": false, "name": "proposalId", "type": "uint256"},
      {"indexed": false, "name": "support",    "type": "uint8"},
      {"indexed": false, "name": "weight",     "type": "uint256"},
      {"indexed": false, "name": "reason",     "type": "string"},
      {"indexed": false, "name": "params",     "type": "bytes"}
    ],
    "name": "VoteCastWithParams",
    "type": "event"
  },
  {
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "proposalVotes",
    "outputs": [
      {"name": "againstVotes", "type": "uint256"},
      {"name": "forVotes",     "type": "uint256"},
      {"name": "abstainVotes", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"name": "blockNumber", "type": "uint256"}],
    "name": "quorum",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "state",
    "outputs": [{"name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

// Contract proposal states per OZ Governor's IGovernor.ProposalState enum.
const (
	chainStatePending   = uint8(0)
	chainStateActive    = uint8(1)
	chainStateCanceled  = uint8(2)
	chainStateDefeated  = uint8(3)
	chainStateSucceeded = uint8(4)
	chainStateQueued    = uint8(5)
	chainStateExpired   = uint8(6)
	chainStateExecuted  = uint8(7)
)
